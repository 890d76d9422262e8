package server

import (
	"encoding/json"
	"time"

	"github.com/itsrealkaran/eth-date/data"
)

// Wire message types. Unknown types are logged and ignored so old
// clients keep working against newer servers.
const (
	MsgGPSUpdate     = "gps_update"
	MsgSelectedUsers = "selected_users"
	MsgPing          = "ping"
	MsgPong          = "pong"
)

// Message is the envelope for everything on the wire
type Message struct {
	Type   string          `json:"type"`
	UserID string          `json:"userId,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Selection maps the two counterpart slots to user ids. Replaced
// wholesale on every update, never merged field by field.
type Selection struct {
	Male       *string `json:"male"`
	Female     *string `json:"female"`
	SelectedAt int64   `json:"selectedAt,omitempty"`
}

// Slot returns the selected user for a slot label, or "" if empty
func (s *Selection) Slot(label string) string {
	if s == nil {
		return ""
	}
	var id *string
	switch label {
	case "male":
		id = s.Male
	case "female":
		id = s.Female
	}
	if id == nil {
		return ""
	}
	return *id
}

// Equal reports whether two selections pick the same users
func (s *Selection) Equal(o *Selection) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.Slot("male") == o.Slot("male") && s.Slot("female") == o.Slot("female")
}

// NewGPSUpdate builds a gps_update message for a user's position
func NewGPSUpdate(userID string, pos *data.Position) *Message {
	b, _ := json.Marshal(pos)
	return &Message{
		Type:   MsgGPSUpdate,
		UserID: userID,
		Data:   b,
	}
}

// NewSelectedUsers builds a selected_users message
func NewSelectedUsers(sel *Selection) *Message {
	if sel.SelectedAt == 0 {
		sel.SelectedAt = time.Now().UnixMilli()
	}
	b, _ := json.Marshal(sel)
	return &Message{
		Type: MsgSelectedUsers,
		Data: b,
	}
}

// NewPong builds a pong reply
func NewPong() *Message {
	return &Message{Type: MsgPong}
}

// NewPing builds a ping
func NewPing() *Message {
	return &Message{Type: MsgPing}
}

// Position decodes the payload of a gps_update
func (m *Message) Position() (*data.Position, error) {
	var pos data.Position
	if err := json.Unmarshal(m.Data, &pos); err != nil {
		return nil, err
	}
	return &pos, nil
}

// Selection decodes the payload of a selected_users message
func (m *Message) Selection() (*Selection, error) {
	var sel Selection
	if err := json.Unmarshal(m.Data, &sel); err != nil {
		return nil, err
	}
	return &sel, nil
}

// validCoordinates checks the ranges before a position enters the store
func validCoordinates(pos *data.Position) bool {
	if pos.Latitude < -90 || pos.Latitude > 90 {
		return false
	}
	if pos.Longitude < -180 || pos.Longitude > 180 {
		return false
	}
	return pos.Accuracy >= 0
}
