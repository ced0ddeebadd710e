package mem

import (
	"sort"
	"sync"
	"time"

	"github.com/huddle-app/huddle/store"
)

// Config represents the InMemory store config structure.
type Config struct {
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
}

// InMemory represents the in-memory implementation of the Store interface.
type InMemory struct {
	cfg   *Config
	rooms map[string]room
	mu    sync.Mutex
	stop  chan struct{}
	once  sync.Once
}

var _ store.Store = (*InMemory)(nil)

type room struct {
	store.Room
	Expire time.Time
}

// New returns a new in-memory store.
func New(cfg Config) (*InMemory, error) {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	s := &InMemory{
		cfg:   &cfg,
		rooms: map[string]room{},
		stop:  make(chan struct{}),
	}
	go s.watch()
	return s, nil
}

// Close stops the cleanup goroutine.
func (m *InMemory) Close() error {
	m.once.Do(func() { close(m.stop) })
	return nil
}

// watch the store to clean it up.
func (m *InMemory) watch() {
	t := time.NewTicker(m.cfg.CleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
			m.cleanup()
		}
	}
}

// cleanup removes expired rooms.
func (m *InMemory) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for id, r := range m.rooms {
		if r.expired(now) {
			delete(m.rooms, id)
		}
	}
}

// PutRoom adds or replaces a room in the store. A zero ttl never expires.
func (m *InMemory) PutRoom(r store.Room, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	m.rooms[r.ID] = room{Room: r, Expire: exp}
	return nil
}

// GetRoom gets a room from the store.
func (m *InMemory) GetRoom(id string) (store.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[id]
	if !ok || r.expired(time.Now()) {
		return store.Room{}, store.ErrRoomNotFound
	}
	return r.Room, nil
}

// RemoveRoom deletes a room from the store.
func (m *InMemory) RemoveRoom(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.rooms, id)
	return nil
}

// ListRooms returns all unexpired rooms ordered by ID.
func (m *InMemory) ListRooms() ([]store.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	out := make([]store.Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		if r.expired(now) {
			continue
		}
		out = append(out, r.Room)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r room) expired(now time.Time) bool {
	return !r.Expire.IsZero() && r.Expire.Before(now)
}
