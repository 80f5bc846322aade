package checkin

import (
	"math"
)

const earthRadiusMeters = 6371000.0

// Coordinate is a WGS84 point.
type Coordinate struct {
	Lat float64 `yaml:"lat" json:"lat"`
	Lng float64 `yaml:"lng" json:"lng"`
}

// Place is a read-only catalog entry describing a physical check-in target.
// The machine never mutates places; they are owned by the catalog.
type Place struct {
	ID            string     `yaml:"id" json:"id"`
	LocationID    string     `yaml:"location_id" json:"location_id"`
	Name          string     `yaml:"name" json:"name"`
	Coordinate    Coordinate `yaml:"coordinate" json:"coordinate"`
	RadiusMeters  float64    `yaml:"radius_meters" json:"radius_meters"`
	Points        int        `yaml:"points" json:"points"`
	CollectibleID string     `yaml:"collectible_id,omitempty" json:"collectible_id,omitempty"`
}

// InRange reports whether a live position is inside the place's check-in radius.
func (p Place) InRange(at Coordinate) bool {
	return DistanceMeters(p.Coordinate, at) <= p.RadiusMeters
}

// DistanceMeters computes the haversine great-circle distance between two points.
func DistanceMeters(a, b Coordinate) float64 {
	latA := a.Lat * math.Pi / 180
	latB := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(latA)*math.Cos(latB)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}
