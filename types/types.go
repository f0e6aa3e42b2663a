package types

import "time"

// Coordinate holds lat/lon
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Waypoint is a named point a device travels through.
type Waypoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name"`
}

// Coordinate drops the waypoint name.
func (w Waypoint) Coordinate() Coordinate {
	return Coordinate{Latitude: w.Latitude, Longitude: w.Longitude}
}

// RoutePoint is one leg endpoint as supplied by a caller. Either coordinate
// may be missing.
type RoutePoint struct {
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Name      string   `json:"name,omitempty"`
}

// NewRoutePoint builds a fully populated RoutePoint.
func NewRoutePoint(lat, lon float64, name string) *RoutePoint {
	return &RoutePoint{Latitude: &lat, Longitude: &lon, Name: name}
}

// Route is the station -> pickup -> delivery input of a tracking session.
type Route struct {
	Origin   *RoutePoint `json:"origin,omitempty"`
	Pickup   *RoutePoint `json:"pickup,omitempty"`
	Delivery *RoutePoint `json:"delivery,omitempty"`
}

// Position is a single simulated location report.
type Position struct {
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	Speed        float64   `json:"speed"`   // km/h
	Heading      float64   `json:"heading"` // degrees from north
	Altitude     float64   `json:"altitude"`
	Timestamp    time.Time `json:"timestamp"`
	SegmentIndex int       `json:"segmentIndex"`
	Progress     float64   `json:"progress"`
	NextWaypoint string    `json:"nextWaypoint"`
}

// Status is an order status transition raised by the tracker.
type Status string

const (
	StatusPickedUp   Status = "PICKED_UP"
	StatusDelivering Status = "DELIVERING"
	StatusDelivered  Status = "DELIVERED"
)
