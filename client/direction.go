package client

import (
	"fmt"
	"math"

	"github.com/itsrealkaran/eth-date/data"
	"github.com/itsrealkaran/eth-date/geo"
	"github.com/itsrealkaran/eth-date/server"
)

// Slots are the two counterpart slots a user can track toward
var Slots = []string{"male", "female"}

// DirectionInfo is the display-ready bundle for one slot. Derived on
// every call, never cached.
type DirectionInfo struct {
	UserID    string `json:"userId"`
	Distance  int    `json:"distance"`
	Bearing   int    `json:"bearing"`
	Direction string `json:"direction"`
}

// ComputeDirections derives direction info for each slot from the
// self position, the target assignment and the peer positions. A slot
// with no target or no stored target position comes back nil, which
// the UI renders as "no data yet".
func ComputeDirections(self *data.Position, sel *server.Selection, peers *data.Positions) map[string]*DirectionInfo {
	result := make(map[string]*DirectionInfo, len(Slots))
	for _, slot := range Slots {
		result[slot] = nil
	}

	if self == nil || sel == nil || peers == nil {
		return result
	}

	for _, slot := range Slots {
		target := sel.Slot(slot)
		if target == "" {
			continue
		}
		pos, ok := peers.Get(target)
		if !ok {
			continue
		}

		distance := geo.DistanceMeters(self.Latitude, self.Longitude, pos.Latitude, pos.Longitude)
		bearing := geo.BearingDegrees(self.Latitude, self.Longitude, pos.Latitude, pos.Longitude)

		result[slot] = &DirectionInfo{
			UserID:    target,
			Distance:  int(math.Round(distance)),
			Bearing:   int(math.Round(bearing)) % 360,
			Direction: geo.Cardinal(bearing),
		}
	}

	return result
}

// FormatDistance renders a distance for display, meters under a
// kilometer and one decimal of kilometers beyond
func FormatDistance(meters int) string {
	if meters < 1000 {
		return fmt.Sprintf("%dm", meters)
	}
	return fmt.Sprintf("%.1fkm", float64(meters)/1000)
}
