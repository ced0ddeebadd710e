package redis

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/huddle-app/huddle/store"
)

// Config represents the Redis store config structure.
type Config struct {
	Address     string        `koanf:"address"`
	Password    string        `koanf:"password"`
	DB          int           `koanf:"db"`
	ActiveConns int           `koanf:"active_conns"`
	IdleConns   int           `koanf:"idle_conns"`
	Timeout     time.Duration `koanf:"timeout"`

	PrefixRoom string `koanf:"prefix_room"`
}

// Redis represents the Redis implementation of the Store interface.
type Redis struct {
	cfg  *Config
	pool *redis.Pool
}

var _ store.Store = (*Redis)(nil)

type room struct {
	Participants int    `redis:"participants"`
	LastActive   string `redis:"last_active"`
}

// New returns a new Redis store.
func New(cfg Config) (*Redis, error) {
	if cfg.PrefixRoom == "" {
		cfg.PrefixRoom = "huddle:room:%s"
	}

	pool := &redis.Pool{
		Wait:      true,
		MaxActive: cfg.ActiveConns,
		MaxIdle:   cfg.IdleConns,
		Dial: func() (redis.Conn, error) {
			return redis.Dial(
				"tcp",
				cfg.Address,
				redis.DialPassword(cfg.Password),
				redis.DialConnectTimeout(cfg.Timeout),
				redis.DialReadTimeout(cfg.Timeout),
				redis.DialWriteTimeout(cfg.Timeout),
				redis.DialDatabase(cfg.DB),
			)
		},
	}

	// Test connection.
	c := pool.Get()
	defer c.Close()

	if _, err := c.Do("PING"); err != nil {
		pool.Close()
		return nil, fmt.Errorf("error connecting to redis: %w", err)
	}
	return &Redis{cfg: &cfg, pool: pool}, nil
}

// Close closes the connection pool.
func (r *Redis) Close() error {
	return r.pool.Close()
}

// PutRoom adds or replaces a room in the store. A zero ttl never expires.
func (r *Redis) PutRoom(rm store.Room, ttl time.Duration) error {
	c := r.pool.Get()
	defer c.Close()

	key := r.key(rm.ID)
	c.Send("MULTI")
	c.Send("HSET", key,
		"participants", rm.Participants,
		"last_active", rm.LastActive.Format(time.RFC3339Nano))
	if ttl > 0 {
		c.Send("PEXPIRE", key, ttl.Milliseconds())
	} else {
		c.Send("PERSIST", key)
	}
	_, err := c.Do("EXEC")
	return err
}

// GetRoom gets a room from the store.
func (r *Redis) GetRoom(id string) (store.Room, error) {
	c := r.pool.Get()
	defer c.Close()

	return r.getRoom(c, id)
}

func (r *Redis) getRoom(c redis.Conn, id string) (store.Room, error) {
	res, err := redis.Values(c.Do("HGETALL", r.key(id)))
	if err != nil {
		return store.Room{}, err
	}
	if len(res) == 0 {
		return store.Room{}, store.ErrRoomNotFound
	}

	var rm room
	if err := redis.ScanStruct(res, &rm); err != nil {
		return store.Room{}, err
	}

	t, err := time.Parse(time.RFC3339Nano, rm.LastActive)
	if err != nil {
		return store.Room{}, err
	}
	return store.Room{
		ID:           id,
		Participants: rm.Participants,
		LastActive:   t,
	}, nil
}

// RemoveRoom deletes a room from the store.
func (r *Redis) RemoveRoom(id string) error {
	c := r.pool.Get()
	defer c.Close()

	_, err := c.Do("DEL", r.key(id))
	return err
}

// ListRooms scans the room keyspace and returns every room ordered by ID.
func (r *Redis) ListRooms() ([]store.Room, error) {
	c := r.pool.Get()
	defer c.Close()

	var (
		pattern = r.key("*")
		cursor  = 0
		ids     []string
	)
	for {
		res, err := redis.Values(c.Do("SCAN", cursor, "MATCH", pattern, "COUNT", 100))
		if err != nil {
			return nil, err
		}

		var keys []string
		if _, err := redis.Scan(res, &cursor, &keys); err != nil {
			return nil, err
		}
		for _, k := range keys {
			ids = append(ids, r.idFromKey(k))
		}

		if cursor == 0 {
			break
		}
	}

	out := make([]store.Room, 0, len(ids))
	for _, id := range ids {
		rm, err := r.getRoom(c, id)
		if err == store.ErrRoomNotFound {
			// Expired between SCAN and HGETALL.
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Redis) key(id string) string {
	return fmt.Sprintf(r.cfg.PrefixRoom, id)
}

// idFromKey reverses key() for prefixes of the form "anything%s".
func (r *Redis) idFromKey(k string) string {
	prefix := strings.SplitN(r.cfg.PrefixRoom, "%s", 2)[0]
	return strings.TrimPrefix(k, prefix)
}
