package server

import (
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/itsrealkaran/eth-date/data"
)

func testPosition(lat, lon float64) *data.Position {
	return &data.Position{
		Latitude:  lat,
		Longitude: lon,
		Accuracy:  10,
		Timestamp: time.Now().UnixMilli(),
		Source:    "device",
	}
}

func recvMessage(t *testing.T, o *Observer) *Message {
	t.Helper()
	select {
	case msg := <-o.Events:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestGPSUpdateStoresAndBroadcasts(t *testing.T) {
	s := New()
	alice := NewObserver("alice", "s1")
	bob := NewObserver("bob", "s2")
	s.Observe(alice)
	s.Observe(bob)

	s.handle(NewGPSUpdate("alice", testPosition(37.77, -122.41)))

	pos, ok := s.Positions().Get("alice")
	if !ok {
		t.Fatal("position not stored")
	}
	if pos.Latitude != 37.77 {
		t.Errorf("latitude = %f, want 37.77", pos.Latitude)
	}

	msg := recvMessage(t, bob)
	if msg.Type != MsgGPSUpdate || msg.UserID != "alice" {
		t.Errorf("bob got %s from %s, want gps_update from alice", msg.Type, msg.UserID)
	}

	// the sender doesn't get its own update back
	select {
	case msg := <-alice.Events:
		t.Errorf("alice got her own update back: %+v", msg)
	default:
	}
}

func TestGPSUpdateRateLimited(t *testing.T) {
	s := New()
	s.limiter = NewRateLimiter(time.Minute)

	s.handle(NewGPSUpdate("alice", testPosition(1, 1)))
	s.handle(NewGPSUpdate("alice", testPosition(2, 2)))

	pos, _ := s.Positions().Get("alice")
	if pos.Latitude != 1 {
		t.Errorf("second update should have been dropped, got lat %f", pos.Latitude)
	}
}

func TestGPSUpdateValidation(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		acc      float64
		want     bool
	}{
		{"valid", 37.77, -122.41, 10, true},
		{"lat too high", 95, 0, 10, false},
		{"lat too low", -95, 0, 10, false},
		{"lon too high", 0, 190, 10, false},
		{"lon too low", 0, -190, 10, false},
		{"negative accuracy", 10, 10, -1, false},
		{"poles and antimeridian", 90, 180, 0, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pos := &data.Position{Latitude: tc.lat, Longitude: tc.lon, Accuracy: tc.acc}
			if got := validCoordinates(pos); got != tc.want {
				t.Errorf("validCoordinates = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestMalformedGPSUpdateDropped(t *testing.T) {
	s := New()
	s.handle(&Message{Type: MsgGPSUpdate, UserID: "alice", Data: []byte("{not json")})

	if _, ok := s.Positions().Get("alice"); ok {
		t.Error("malformed update should not be stored")
	}
}

func TestUnknownTypeIgnored(t *testing.T) {
	s := New()
	// must not panic or store anything
	s.handle(&Message{Type: "telemetry_v2", UserID: "alice", Data: []byte("{}")})

	if _, ok := s.Positions().Get("alice"); ok {
		t.Error("unknown type should be ignored")
	}
}

func TestSelectRelaysToUser(t *testing.T) {
	s := New()
	alice := NewObserver("alice", "s1")
	bob := NewObserver("bob", "s2")
	s.Observe(alice)
	s.Observe(bob)

	target := "bob"
	s.Select("alice", &Selection{Male: &target})

	msg := recvMessage(t, alice)
	if msg.Type != MsgSelectedUsers {
		t.Fatalf("type = %s, want selected_users", msg.Type)
	}
	sel, err := msg.Selection()
	if err != nil {
		t.Fatal(err)
	}
	if sel.Slot("male") != "bob" {
		t.Errorf("male slot = %q, want bob", sel.Slot("male"))
	}
	if sel.Slot("female") != "" {
		t.Errorf("female slot = %q, want empty", sel.Slot("female"))
	}
	if sel.SelectedAt == 0 {
		t.Error("selectedAt not stamped")
	}

	// selections are private to the selecting user
	select {
	case msg := <-bob.Events:
		t.Errorf("bob got alice's selection: %+v", msg)
	default:
	}
}

func TestObserveCatchesUpSelection(t *testing.T) {
	s := New()
	target := "bob"
	s.Select("alice", &Selection{Female: &target})

	alice := NewObserver("alice", "s1")
	s.Observe(alice)

	msg := recvMessage(t, alice)
	if msg.Type != MsgSelectedUsers {
		t.Fatalf("type = %s, want selected_users", msg.Type)
	}
	sel, _ := msg.Selection()
	if sel.Slot("female") != "bob" {
		t.Errorf("female slot = %q, want bob", sel.Slot("female"))
	}
}

func TestFailedUpgradeReapsObserver(t *testing.T) {
	s := New()
	o := NewObserver("alice", "s1")
	s.Observe(o)

	// looks like an upgrade but the recorder can't be hijacked,
	// so Upgrade fails after the observer is registered
	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Connection", "Upgrade")
	r.Header.Set("Upgrade", "websocket")
	ServeWebSocket(httptest.NewRecorder(), r, o)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(s.TrackedUsers()) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("observer leaked after failed upgrade")
}

func TestKillRemovesObserver(t *testing.T) {
	s := New()
	o := NewObserver("alice", "s1")
	s.Observe(o)

	close(o.Kill)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(s.TrackedUsers()) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("observer not removed after kill")
}

func TestSelectionEqual(t *testing.T) {
	a, b := "a", "b"
	tests := []struct {
		name string
		x, y *Selection
		want bool
	}{
		{"both nil", nil, nil, true},
		{"one nil", &Selection{}, nil, false},
		{"both empty", &Selection{}, &Selection{}, true},
		{"same slots", &Selection{Male: &a}, &Selection{Male: &a}, true},
		{"different slots", &Selection{Male: &a}, &Selection{Male: &b}, false},
		{"swapped slots", &Selection{Male: &a}, &Selection{Female: &a}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.x.Equal(tc.y); got != tc.want {
				t.Errorf("Equal = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestMatcherPicksNearestCounterpart(t *testing.T) {
	s := New()
	m := &Matcher{
		server:   s,
		profiles: data.OpenProfiles(filepath.Join(t.TempDir(), "profiles.db")),
	}
	defer m.profiles.Close()

	m.profiles.Set("alice", "female")
	m.profiles.Set("bob", "male")
	m.profiles.Set("carl", "male")

	alice := NewObserver("alice", "s1")
	s.Observe(alice)

	// carl is ~1km north of alice, bob ~2km
	s.Positions().Put("alice", testPosition(37.7749, -122.4194))
	s.Positions().Put("carl", testPosition(37.7849, -122.4194))
	s.Positions().Put("bob", testPosition(37.7949, -122.4194))

	m.sweep()

	sel := s.Selection("alice")
	if sel == nil {
		t.Fatal("no selection assigned")
	}
	if sel.Slot("male") != "carl" {
		t.Errorf("male slot = %q, want carl (the nearer one)", sel.Slot("male"))
	}
	if sel.Slot("female") != "" {
		t.Errorf("female slot = %q, want empty (no other females)", sel.Slot("female"))
	}

	msg := recvMessage(t, alice)
	if msg.Type != MsgSelectedUsers {
		t.Errorf("alice got %s, want selected_users", msg.Type)
	}

	// unchanged assignment doesn't re-broadcast
	m.sweep()
	select {
	case msg := <-alice.Events:
		t.Errorf("unchanged selection re-sent: %+v", msg)
	default:
	}
}
