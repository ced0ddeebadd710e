package mem

import (
	"errors"
	"testing"
	"time"

	"github.com/huddle-app/huddle/store"
)

func TestPutGetRemove(t *testing.T) {
	s, _ := New(Config{})
	defer s.Close()

	now := time.Now()
	if err := s.PutRoom(store.Room{ID: "r1", Participants: 2, LastActive: now}, time.Minute); err != nil {
		t.Fatal(err)
	}

	r, err := s.GetRoom("r1")
	if err != nil {
		t.Fatal(err)
	}
	if r.ID != "r1" || r.Participants != 2 || !r.LastActive.Equal(now) {
		t.Fatalf("GetRoom(r1) = %+v", r)
	}

	// Replace.
	s.PutRoom(store.Room{ID: "r1", Participants: 3}, time.Minute)
	if r, _ := s.GetRoom("r1"); r.Participants != 3 {
		t.Fatalf("participants = %d; want 3", r.Participants)
	}

	s.RemoveRoom("r1")
	if _, err := s.GetRoom("r1"); !errors.Is(err, store.ErrRoomNotFound) {
		t.Fatalf("GetRoom after remove = %v; want ErrRoomNotFound", err)
	}
	if err := s.RemoveRoom("r1"); err != nil {
		t.Fatalf("removing a missing room: %v", err)
	}
}

func TestExpiry(t *testing.T) {
	s, _ := New(Config{CleanupInterval: time.Hour})
	defer s.Close()

	s.PutRoom(store.Room{ID: "short"}, time.Millisecond)
	s.PutRoom(store.Room{ID: "forever"}, 0)
	time.Sleep(5 * time.Millisecond)

	if _, err := s.GetRoom("short"); !errors.Is(err, store.ErrRoomNotFound) {
		t.Fatalf("expired room returned: %v", err)
	}
	if _, err := s.GetRoom("forever"); err != nil {
		t.Fatalf("room without ttl expired: %v", err)
	}

	rooms, _ := s.ListRooms()
	if len(rooms) != 1 || rooms[0].ID != "forever" {
		t.Fatalf("ListRooms() = %+v", rooms)
	}

	s.cleanup()
	s.mu.Lock()
	n := len(s.rooms)
	s.mu.Unlock()
	if n != 1 {
		t.Fatalf("%d rooms after cleanup; want 1", n)
	}
}

func TestListRoomsOrder(t *testing.T) {
	s, _ := New(Config{})
	defer s.Close()

	for _, id := range []string{"c", "a", "b"} {
		s.PutRoom(store.Room{ID: id}, time.Minute)
	}
	rooms, err := s.ListRooms()
	if err != nil {
		t.Fatal(err)
	}
	if len(rooms) != 3 || rooms[0].ID != "a" || rooms[1].ID != "b" || rooms[2].ID != "c" {
		t.Fatalf("ListRooms() = %+v", rooms)
	}
}

func TestClose(t *testing.T) {
	var st store.Store
	s, _ := New(Config{CleanupInterval: time.Millisecond})
	st = s

	if err := st.Close(); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	select {
	case <-s.stop:
	default:
		t.Fatal("cleanup goroutine not signalled to stop")
	}
}
