package database

import (
	"math"

	sq "github.com/Masterminds/squirrel"

	"github.com/miyagawa-lab/geonarrator/geo"
)

// BoundingBox is a lat/lng rectangle enclosing a radius around a center
// point. It over-approximates; callers must post-filter with exact
// haversine distances.
type BoundingBox struct {
	LatMin, LatMax float64
	LngMin, LngMax float64
}

// BoxAround computes the bounding box for a radius (meters) around p.
func BoxAround(p geo.Point, radiusMeters float64) BoundingBox {
	dLat := radiusMeters / geo.EarthRadiusMeters * 180 / math.Pi

	box := BoundingBox{
		LatMin: math.Max(p.Lat-dLat, -90),
		LatMax: math.Min(p.Lat+dLat, 90),
	}

	cosLat := math.Cos(p.Lat * math.Pi / 180)
	if cosLat <= 1e-9 {
		// at the poles every longitude is within range
		box.LngMin, box.LngMax = -180, 180
		return box
	}

	dLng := radiusMeters / (geo.EarthRadiusMeters * cosLat) * 180 / math.Pi
	lngMin := p.Lng - dLng
	lngMax := p.Lng + dLng
	if lngMin < -180 || lngMax > 180 {
		// box crosses the antimeridian; fall back to a full scan in lng
		box.LngMin, box.LngMax = -180, 180
		return box
	}
	box.LngMin, box.LngMax = lngMin, lngMax
	return box
}

// NearConditions builds the SQL range predicate for records whose
// coordinates fall inside the bounding box around p, optionally restricted
// to a floor (0 means all floors). The returned SQL uses ? placeholders
// and feeds straight into a GORM Where clause.
func NearConditions(p geo.Point, radiusMeters float64, floor int) (string, []interface{}, error) {
	box := BoxAround(p, radiusMeters)

	cond := sq.And{
		sq.GtOrEq{"lat": box.LatMin},
		sq.LtOrEq{"lat": box.LatMax},
		sq.GtOrEq{"lng": box.LngMin},
		sq.LtOrEq{"lng": box.LngMax},
	}
	if floor != 0 {
		cond = append(cond, sq.Eq{"floor": floor})
	}

	return cond.ToSql()
}
