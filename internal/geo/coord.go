package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mmcloughlin/geohash"
	"github.com/musthaq16/drone-route-tracker/types"
)

const earthRadiusKM = 6371.0

// ParseCoord parses a string like "37.7849,-122.4094" into a Coordinate
func ParseCoord(input string) (types.Coordinate, error) {
	parts := strings.Split(input, ",")
	if len(parts) != 2 {
		return types.Coordinate{}, fmt.Errorf("invalid coordinate: %q", input)
	}

	lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lon, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil {
		return types.Coordinate{}, fmt.Errorf("invalid lat/lon: %q", input)
	}
	if !Valid(lat, lon) {
		return types.Coordinate{}, fmt.Errorf("lat/lon out of range: %q", input)
	}

	return types.Coordinate{Latitude: lat, Longitude: lon}, nil
}

// Valid reports whether lat/lon are finite and inside the WGS84 range.
func Valid(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// Interpolate blends linearly from start to end. fraction 0 is start, 1 is end.
func Interpolate(start, end types.Waypoint, fraction float64) types.Coordinate {
	return types.Coordinate{
		Latitude:  start.Latitude + (end.Latitude-start.Latitude)*fraction,
		Longitude: start.Longitude + (end.Longitude-start.Longitude)*fraction,
	}
}

// Heading returns the planar bearing from start to end in whole degrees,
// 0 = north, 90 = east.
func Heading(start, end types.Waypoint) float64 {
	deltaLat := end.Latitude - start.Latitude
	deltaLon := end.Longitude - start.Longitude

	heading := math.Atan2(deltaLon, deltaLat) * 180 / math.Pi
	heading = math.Mod(heading+360, 360)

	return math.Mod(math.Round(heading), 360)
}

// HaversineKM calculates the great-circle distance between two points in kilometers
func HaversineKM(a, b types.Coordinate) float64 {
	lat1 := a.Latitude * math.Pi / 180.0
	lon1 := a.Longitude * math.Pi / 180.0
	lat2 := b.Latitude * math.Pi / 180.0
	lon2 := b.Longitude * math.Pi / 180.0

	dLat := lat2 - lat1
	dLon := lon2 - lon1
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)

	return earthRadiusKM * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Geohash encodes a location with the given precision
func Geohash(lat, lon float64, precision uint) string {
	return geohash.EncodeWithPrecision(lat, lon, precision)
}
