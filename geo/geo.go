// Package geo provides the great-circle math behind the compass view.
// All functions are pure and expect coordinates in decimal degrees.
package geo

import "math"

// EarthRadius is the mean earth radius in meters
const EarthRadius = 6371000

// 16-wind compass rose, clockwise from north
var directions = []string{
	"N", "NNE", "NE", "ENE",
	"E", "ESE", "SE", "SSE",
	"S", "SSW", "SW", "WSW",
	"W", "WNW", "NW", "NNW",
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// DistanceMeters returns the haversine distance between two points in meters
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLon := radians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadius * c
}

// BearingDegrees returns the initial bearing from point 1 to point 2,
// normalized to [0, 360)
func BearingDegrees(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := radians(lat1)
	p2 := radians(lat2)
	dLon := radians(lon2 - lon1)

	x := math.Sin(dLon) * math.Cos(p2)
	y := math.Cos(p1)*math.Sin(p2) - math.Sin(p1)*math.Cos(p2)*math.Cos(dLon)

	deg := math.Atan2(x, y) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// Cardinal converts a bearing to one of the 16 compass labels
func Cardinal(bearing float64) string {
	index := int(math.Round(bearing/22.5)) % 16
	return directions[index]
}

// ArrowRotation returns the rotation in degrees for a directional arrow
// pointing along the bearing. The arrow asset points north at 0.
func ArrowRotation(bearing float64) float64 {
	return bearing
}
