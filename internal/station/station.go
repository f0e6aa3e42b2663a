// Package station keeps the dispatch stations devices leave from and finds
// the closest one to a pickup point.
package station

import (
	"sync"

	"github.com/dhconnelly/rtreego"

	"github.com/musthaq16/drone-route-tracker/internal/geo"
	"github.com/musthaq16/drone-route-tracker/types"
)

const (
	tolerance   = 0.0001
	minChildren = 2
	maxChildren = 8
	dimensions  = 2
)

// Station is a dispatch hub
type Station struct {
	ID        string  `mapstructure:"id" json:"id" validate:"required"`
	Name      string  `mapstructure:"name" json:"name"`
	Address   string  `mapstructure:"address" json:"address"`
	Latitude  float64 `mapstructure:"latitude" json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `mapstructure:"longitude" json:"longitude" validate:"gte=-180,lte=180"`
}

// Defaults are the stations used when none are configured.
var Defaults = []Station{
	{ID: "station-1", Name: "SkyHub Central", Address: "789 Howard St, San Francisco", Latitude: 37.7849, Longitude: -122.4094},
	{ID: "station-2", Name: "SkyHub North", Address: "456 Market St, San Francisco", Latitude: 37.7949, Longitude: -122.3994},
	{ID: "station-3", Name: "SkyHub South", Address: "123 3rd St, San Francisco", Latitude: 37.7649, Longitude: -122.4294},
}

// RoutePoint converts the station into a route origin.
func (s Station) RoutePoint() *types.RoutePoint {
	return types.NewRoutePoint(s.Latitude, s.Longitude, s.Name)
}

func (s Station) coordinate() types.Coordinate {
	return types.Coordinate{Latitude: s.Latitude, Longitude: s.Longitude}
}

// spatialItem wraps a Station for R-Tree indexing
type spatialItem struct {
	station Station
	rect    *rtreego.Rect
}

func (si *spatialItem) Bounds() *rtreego.Rect {
	return si.rect
}

// Registry is a thread-safe R-Tree of stations
type Registry struct {
	mu    sync.RWMutex
	tree  *rtreego.Rtree
	count int
}

// NewRegistry indexes the given stations.
func NewRegistry(stations []Station) *Registry {
	r := &Registry{}
	r.Replace(stations)
	return r
}

// Replace swaps the indexed stations for a new set.
func (r *Registry) Replace(stations []Station) {
	tree := rtreego.NewTree(dimensions, minChildren, maxChildren)
	for _, s := range stations {
		p := rtreego.Point{s.Latitude, s.Longitude}
		tree.Insert(&spatialItem{station: s, rect: p.ToRect(tolerance)})
	}

	r.mu.Lock()
	r.tree = tree
	r.count = len(stations)
	r.mu.Unlock()
}

// Len returns the number of stations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Nearest returns the station closest to lat/lon.
func (r *Registry) Nearest(lat, lon float64) (Station, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.count == 0 {
		return Station{}, false
	}

	// the tree ranks by planar distance; re-check a few candidates by
	// great-circle distance
	k := 3
	if r.count < k {
		k = r.count
	}
	target := types.Coordinate{Latitude: lat, Longitude: lon}

	var (
		best  Station
		found bool
		bestD float64
	)
	for _, res := range r.tree.NearestNeighbors(k, rtreego.Point{lat, lon}) {
		item, ok := res.(*spatialItem)
		if !ok {
			continue
		}
		d := geo.HaversineKM(target, item.station.coordinate())
		if !found || d < bestD {
			best, bestD, found = item.station, d, true
		}
	}
	return best, found
}

// AssignOrigin fills a missing route origin with the station nearest to the
// pickup. Routes that already have an origin, or no usable pickup, are
// returned unchanged.
func (r *Registry) AssignOrigin(route types.Route) (types.Route, *Station) {
	if route.Origin != nil && route.Origin.Latitude != nil && route.Origin.Longitude != nil {
		return route, nil
	}
	p := route.Pickup
	if p == nil || p.Latitude == nil || p.Longitude == nil || !geo.Valid(*p.Latitude, *p.Longitude) {
		return route, nil
	}
	s, ok := r.Nearest(*p.Latitude, *p.Longitude)
	if !ok {
		return route, nil
	}
	route.Origin = s.RoutePoint()
	return route, &s
}
