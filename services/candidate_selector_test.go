package services

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miyagawa-lab/geonarrator/apperrors"
	"github.com/miyagawa-lab/geonarrator/geo"
	"github.com/miyagawa-lab/geonarrator/models"
)

var origin = geo.Point{Lng: 139.775, Lat: 35.624}

// metersPerLatDegree converts a northward offset in meters to degrees of
// latitude for test fixtures.
const metersPerLatDegree = geo.EarthRadiusMeters * math.Pi / 180

func pointNorth(meters float64) geo.Point {
	return geo.Point{Lng: origin.Lng, Lat: origin.Lat + meters/metersPerLatDegree}
}

func pointEast(meters float64) geo.Point {
	return geo.Point{
		Lng: origin.Lng + meters/(metersPerLatDegree*math.Cos(origin.Lat*math.Pi/180)),
		Lat: origin.Lat,
	}
}

func recordAt(id string, p geo.Point) *models.ImageRecord {
	return &models.ImageRecord{ID: id, Lng: p.Lng, Lat: p.Lat, Status: models.StatusDescribed}
}

func TestSelectFiltersByDistance(t *testing.T) {
	repo := newFakeRepository(
		recordAt("a", pointNorth(10)),
		recordAt("b", pointNorth(50)),
		recordAt("c", pointNorth(30)),
	)
	selector := NewCandidateSelector(repo)

	candidates, err := selector.Select(models.QueryRequest{
		Point:       origin,
		MaxDistance: 40,
		MaxCount:    10,
	})
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	assert.Equal(t, "a", candidates[0].Record.ID)
	assert.Equal(t, "c", candidates[1].Record.ID)
	assert.InDelta(t, 10, candidates[0].DistanceMeters, 0.1)
	assert.InDelta(t, 30, candidates[1].DistanceMeters, 0.1)
}

func TestSelectRejectsNegativeDistance(t *testing.T) {
	repo := newFakeRepository(recordAt("a", pointNorth(10)))
	selector := NewCandidateSelector(repo)

	_, err := selector.Select(models.QueryRequest{
		Point:       origin,
		MaxDistance: -5,
		MaxCount:    10,
	})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))
}

func TestSelectMaxCountZeroReturnsEmpty(t *testing.T) {
	repo := newFakeRepository(recordAt("a", pointNorth(10)))
	selector := NewCandidateSelector(repo)

	candidates, err := selector.Select(models.QueryRequest{
		Point:       origin,
		MaxDistance: 100,
		MaxCount:    0,
	})
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestSelectTruncatesToMaxCount(t *testing.T) {
	repo := newFakeRepository(
		recordAt("a", pointNorth(10)),
		recordAt("b", pointNorth(20)),
		recordAt("c", pointNorth(30)),
	)
	selector := NewCandidateSelector(repo)

	candidates, err := selector.Select(models.QueryRequest{
		Point:       origin,
		MaxDistance: 100,
		MaxCount:    2,
	})
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "a", candidates[0].Record.ID)
	assert.Equal(t, "b", candidates[1].Record.ID)
}

func TestSelectRelativeDirection(t *testing.T) {
	// facing north, a record due east is a quarter turn to the right
	repo := newFakeRepository(recordAt("east", pointEast(20)))
	selector := NewCandidateSelector(repo)

	candidates, err := selector.Select(models.QueryRequest{
		Point:       origin,
		Heading:     0,
		MaxDistance: 100,
		MaxCount:    10,
	})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.InDelta(t, -math.Pi/2, candidates[0].RelativeDirection, 0.01)

	// facing east, the same record is dead ahead
	candidates, err = selector.Select(models.QueryRequest{
		Point:       origin,
		Heading:     math.Pi / 2,
		MaxDistance: 100,
		MaxCount:    10,
	})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.InDelta(t, 0, candidates[0].RelativeDirection, 0.01)
}

func TestSelectCoincidentPointIsAhead(t *testing.T) {
	repo := newFakeRepository(recordAt("here", origin))
	selector := NewCandidateSelector(repo)

	candidates, err := selector.Select(models.QueryRequest{
		Point:       origin,
		Heading:     math.Pi,
		MaxDistance: 10,
		MaxCount:    10,
	})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Zero(t, candidates[0].DistanceMeters)
	assert.Zero(t, candidates[0].RelativeDirection)
}

func TestSelectSkipsRecordsWithoutLocation(t *testing.T) {
	repo := newFakeRepository(
		&models.ImageRecord{ID: "nowhere"},
		recordAt("a", pointNorth(10)),
	)
	selector := NewCandidateSelector(repo)

	candidates, err := selector.Select(models.QueryRequest{
		Point:       origin,
		MaxDistance: 100,
		MaxCount:    10,
	})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "a", candidates[0].Record.ID)
}

func TestSelectDistanceTieBreaksOnID(t *testing.T) {
	p := pointNorth(25)
	repo := newFakeRepository(recordAt("b", p), recordAt("a", p))
	selector := NewCandidateSelector(repo)

	candidates, err := selector.Select(models.QueryRequest{
		Point:       origin,
		MaxDistance: 100,
		MaxCount:    10,
	})
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "a", candidates[0].Record.ID)
	assert.Equal(t, "b", candidates[1].Record.ID)
}
