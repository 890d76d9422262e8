package data

import (
	"testing"
	"time"
)

func pos(lat, lon float64, ts int64) *Position {
	return &Position{
		Latitude:  lat,
		Longitude: lon,
		Accuracy:  10,
		Timestamp: ts,
		Source:    "device",
	}
}

func TestPutThenGet(t *testing.T) {
	p := NewPositions()
	want := pos(37.7749, -122.4194, 1000)
	p.Put("alice", want)

	got, ok := p.Get("alice")
	if !ok {
		t.Fatal("expected position for alice")
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestPutIsolation(t *testing.T) {
	p := NewPositions()
	p.Put("alice", pos(1, 1, 1000))
	p.Put("bob", pos(2, 2, 2000))

	p.Put("alice", pos(3, 3, 3000))

	got, _ := p.Get("bob")
	if got.Latitude != 2 {
		t.Errorf("bob's position changed by alice's put: %+v", got)
	}
}

func TestPutLastWriteWins(t *testing.T) {
	p := NewPositions()
	p.Put("alice", pos(1, 1, 5000))
	// an older timestamp still replaces, no monotonicity check
	p.Put("alice", pos(2, 2, 1000))

	got, _ := p.Get("alice")
	if got.Latitude != 2 || got.Timestamp != 1000 {
		t.Errorf("expected last write to win, got %+v", got)
	}
}

func TestGetAbsent(t *testing.T) {
	p := NewPositions()
	if _, ok := p.Get("nobody"); ok {
		t.Error("expected absent position")
	}
}

func TestEvictStale(t *testing.T) {
	p := NewPositions()
	now := time.Now().UnixMilli()
	threshold := int64(60000)

	p.Put("stale", pos(1, 1, now-70000))
	p.Put("fresh", pos(2, 2, now-50000))
	p.Put("current", pos(3, 3, now))

	evicted := p.EvictStale(now, threshold)
	if evicted != 1 {
		t.Errorf("evicted = %d, want 1", evicted)
	}
	if _, ok := p.Get("stale"); ok {
		t.Error("stale entry should be gone")
	}
	if _, ok := p.Get("fresh"); !ok {
		t.Error("fresh entry should remain")
	}
	if _, ok := p.Get("current"); !ok {
		t.Error("current entry should remain")
	}
}

func TestListSnapshot(t *testing.T) {
	p := NewPositions()
	p.Put("alice", pos(1, 1, 1000))

	list := p.List()
	if len(list) != 1 {
		t.Fatalf("len = %d, want 1", len(list))
	}

	// mutating the snapshot must not affect the store
	delete(list, "alice")
	if _, ok := p.Get("alice"); !ok {
		t.Error("store mutated through snapshot")
	}
}

func TestConcurrentAccess(t *testing.T) {
	p := NewPositions()
	done := make(chan bool)

	for i := 0; i < 8; i++ {
		go func(n int) {
			for j := 0; j < 100; j++ {
				p.Put("user", pos(float64(n), float64(j), int64(j)))
				p.Get("user")
				p.List()
			}
			done <- true
		}(i)
	}

	for i := 0; i < 8; i++ {
		<-done
	}
}
