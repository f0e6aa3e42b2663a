package tracker

import (
	"github.com/musthaq16/drone-route-tracker/internal/geo"
	"github.com/musthaq16/drone-route-tracker/types"
)

// DefaultPath is used whenever a route yields fewer than two usable
// waypoints. It is not configurable.
var DefaultPath = []types.Waypoint{
	{Latitude: 37.7849, Longitude: -122.4094, Name: "Station"},
	{Latitude: 37.7751, Longitude: -122.4193, Name: "Pickup"},
	{Latitude: 37.7749, Longitude: -122.4194, Name: "Delivery"},
}

// BuildPath turns a route into its ordered waypoints. The second return
// value is false when the default path was substituted.
func BuildPath(route types.Route) ([]types.Waypoint, bool) {
	path := make([]types.Waypoint, 0, 3)

	legs := []struct {
		point       *types.RoutePoint
		defaultName string
		keepName    bool
	}{
		{route.Origin, "Station", true},
		{route.Pickup, "Pickup Location", false},
		{route.Delivery, "Delivery Location", false},
	}

	for _, leg := range legs {
		wp, ok := toWaypoint(leg.point)
		if !ok {
			continue
		}
		if leg.keepName && leg.point.Name != "" {
			wp.Name = leg.point.Name
		} else {
			wp.Name = leg.defaultName
		}
		path = append(path, wp)
	}

	if len(path) < 2 {
		fallback := make([]types.Waypoint, len(DefaultPath))
		copy(fallback, DefaultPath)
		return fallback, false
	}
	return path, true
}

func toWaypoint(p *types.RoutePoint) (types.Waypoint, bool) {
	if p == nil || p.Latitude == nil || p.Longitude == nil {
		return types.Waypoint{}, false
	}
	if !geo.Valid(*p.Latitude, *p.Longitude) {
		return types.Waypoint{}, false
	}
	return types.Waypoint{Latitude: *p.Latitude, Longitude: *p.Longitude}, true
}
