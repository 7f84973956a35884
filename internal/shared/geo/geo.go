// Package geo provides great-circle distance helpers for GPS coordinates.
package geo

import "math"

// EarthRadiusM is the mean Earth radius used by the haversine formula.
const EarthRadiusM = 6371000.0

// Coordinate is a WGS84 position in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat" msgpack:"lat"`
	Lng float64 `json:"lng" msgpack:"lng"`
}

// Distance returns the haversine distance between a and b in meters.
func Distance(a, b Coordinate) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := lat2 - lat1
	dLng := toRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusM * c
}

// HaversineKm is Distance for callers working with raw degrees and kilometres.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	return Distance(Coordinate{Lat: lat1, Lng: lng1}, Coordinate{Lat: lat2, Lng: lng2}) / 1000
}

// PathDistance sums the distances between consecutive points.
func PathDistance(path []Coordinate) float64 {
	total := 0.0
	for i := 1; i < len(path); i++ {
		total += Distance(path[i-1], path[i])
	}
	return total
}

// Interpolate returns n points evenly spaced on the straight line from start to end.
func Interpolate(start, end Coordinate, n int) []Coordinate {
	if n <= 0 {
		return []Coordinate{}
	}
	if n == 1 {
		return []Coordinate{start}
	}

	points := make([]Coordinate, n)
	for i := 0; i < n; i++ {
		ratio := float64(i) / float64(n-1)
		points[i] = Coordinate{
			Lat: start.Lat + (end.Lat-start.Lat)*ratio,
			Lng: start.Lng + (end.Lng-start.Lng)*ratio,
		}
	}
	return points
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
