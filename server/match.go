package server

import (
	"log"
	"time"

	"github.com/itsrealkaran/eth-date/data"
	"github.com/itsrealkaran/eth-date/geo"
)

const matchInterval = 5 * time.Second

// Matcher assigns each tracked user its nearest counterpart per
// gender slot. Assignments only go out when they change, and a slot
// empties out when no counterpart is around.
type Matcher struct {
	server   *Server
	profiles *data.Profiles
}

func NewMatcher(s *Server) *Matcher {
	return &Matcher{
		server:   s,
		profiles: data.DefaultProfiles(),
	}
}

// Run sweeps assignments on a fixed interval
func (m *Matcher) Run() {
	ticker := time.NewTicker(matchInterval)
	defer ticker.Stop()

	for range ticker.C {
		m.sweep()
	}
}

func (m *Matcher) sweep() {
	positions := m.server.Positions().List()

	for _, userID := range m.server.TrackedUsers() {
		self, ok := positions[userID]
		if !ok {
			continue
		}

		sel := &Selection{
			Male:   m.nearest(userID, self, "male", positions),
			Female: m.nearest(userID, self, "female", positions),
		}

		if sel.Equal(m.server.Selection(userID)) {
			continue
		}

		log.Printf("[match] user %s: male=%v female=%v", userID, strOr(sel.Male), strOr(sel.Female))
		m.server.Select(userID, sel)
	}
}

// nearest finds the closest tracked user of the given gender,
// excluding self
func (m *Matcher) nearest(selfID string, self *data.Position, gender string, positions map[string]*data.Position) *string {
	var best string
	bestDist := -1.0

	for id, pos := range positions {
		if id == selfID {
			continue
		}
		if m.profiles.Gender(id) != gender {
			continue
		}
		d := geo.DistanceMeters(self.Latitude, self.Longitude, pos.Latitude, pos.Longitude)
		if bestDist < 0 || d < bestDist {
			best = id
			bestDist = d
		}
	}

	if best == "" {
		return nil
	}
	return &best
}

func strOr(s *string) string {
	if s == nil {
		return "<none>"
	}
	return *s
}
