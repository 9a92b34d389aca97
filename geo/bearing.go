package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used for all great-circle math.
const EarthRadiusMeters = 6371000.0

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

// Haversine returns the great-circle distance between a and b in meters.
// It is symmetric and returns exactly zero for identical points.
func Haversine(a, b Point) float64 {
	if a == b {
		return 0
	}

	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLng*sinLng

	return 2 * EarthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// InitialBearing returns the forward azimuth from `from` to `to` in radians,
// measured clockwise from true north in [0, 2π).
//
// The result is undefined when the two points coincide; callers must handle
// zero distance themselves (the selector treats coincident candidates as
// directly ahead).
func InitialBearing(from, to Point) float64 {
	lat1 := from.Lat * math.Pi / 180
	lat2 := to.Lat * math.Pi / 180
	dLng := (to.Lng - from.Lng) * math.Pi / 180

	y := math.Sin(dLng) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLng)

	bearing := math.Atan2(y, x)
	if bearing < 0 {
		bearing += 2 * math.Pi
	}
	return bearing
}

// Normalize maps an angle in radians into (-π, π] by repeated ±2π
// adjustment.
func Normalize(rad float64) float64 {
	for rad <= -math.Pi {
		rad += 2 * math.Pi
	}
	for rad > math.Pi {
		rad -= 2 * math.Pi
	}
	return rad
}

// RelativeDirection returns the signed angular offset of a compass bearing
// from the observer's heading, in (-π, π]. Positive means the bearing lies
// counter-clockwise (to the left) of the heading; negative means to the
// right. Both arguments are radians measured clockwise from north.
func RelativeDirection(bearing, heading float64) float64 {
	return Normalize(heading - bearing)
}

// DirectionRadians converts a stored compass heading in degrees [0, 360)
// to radians clockwise from north.
func DirectionRadians(degrees float64) float64 {
	return degrees * math.Pi / 180
}

// NormalizeDegrees maps a compass heading into [0, 360).
func NormalizeDegrees(degrees float64) float64 {
	d := math.Mod(degrees, 360)
	if d < 0 {
		d += 360
	}
	return d
}

// Band is a coarse relative-direction class used for surround composition.
type Band string

const (
	BandFront Band = "front"
	BandLeft  Band = "left"
	BandRight Band = "right"
	BandBack  Band = "back"
)

// Classify assigns a relative direction (radians, positive = left) to a
// band. frontAngle is the half-width of the front cone in radians; the back
// cone mirrors it. Everything else is left or right by sign.
func Classify(relative, frontAngle float64) Band {
	abs := math.Abs(relative)
	switch {
	case abs < frontAngle:
		return BandFront
	case abs > math.Pi-frontAngle:
		return BandBack
	case relative > 0:
		return BandLeft
	default:
		return BandRight
	}
}
