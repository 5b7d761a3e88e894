package geo

import (
	"fmt"
	"math"

	"veganagain/internal/restaurants/types"
)

const earthRadiusKm = 6371.0

// Distance is the haversine distance in kilometers.
func Distance(a, b types.Location) float64 {
	lat1, lat2 := radians(a.Lat), radians(b.Lat)
	dLat := radians(b.Lat - a.Lat)
	dLng := radians(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// FormatDistance renders meters below one kilometer and one decimal above.
func FormatDistance(km float64) string {
	if km < 1 {
		return fmt.Sprintf("%dm", int(math.Round(km*1000)))
	}
	return fmt.Sprintf("%.1fkm", km)
}

// Bounds is the visible map rectangle reported by the client.
type Bounds struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

func (b Bounds) Zero() bool {
	return b == Bounds{}
}

// InBounds reports whether loc lies inside b. Bounds crossing the
// antimeridian have West > East.
func InBounds(loc types.Location, b Bounds) bool {
	if loc.Lat < b.South || loc.Lat > b.North {
		return false
	}
	if b.West <= b.East {
		return loc.Lng >= b.West && loc.Lng <= b.East
	}
	return loc.Lng >= b.West || loc.Lng <= b.East
}
