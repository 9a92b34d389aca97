package services

import (
	"log"
	"sort"

	"github.com/miyagawa-lab/geonarrator/apperrors"
	"github.com/miyagawa-lab/geonarrator/geo"
	"github.com/miyagawa-lab/geonarrator/models"
	"github.com/miyagawa-lab/geonarrator/repository"
)

// CandidateSelector turns a query point and heading into a ranked, capped
// list of nearby records with their distances and relative directions.
type CandidateSelector struct {
	Repo repository.ImageRecordRepositoryInterface
}

// NewCandidateSelector creates a new instance of CandidateSelector
func NewCandidateSelector(repo repository.ImageRecordRepositoryInterface) *CandidateSelector {
	return &CandidateSelector{Repo: repo}
}

// Select returns at most req.MaxCount candidates within req.MaxDistance of
// the query point, ordered by ascending distance with id as tie-break.
// MaxCount of zero is a valid request and yields an empty list. Records
// without a usable location are skipped, never fatal.
func (s *CandidateSelector) Select(req models.QueryRequest) ([]models.Candidate, error) {
	if req.MaxDistance < 0 {
		return nil, apperrors.Newf(apperrors.KindValidation, "max distance must be non-negative, got %v", req.MaxDistance)
	}
	if req.MaxCount == 0 {
		return []models.Candidate{}, nil
	}

	records, err := s.Repo.QueryNear(req.Point, req.MaxDistance, req.Floor)
	if err != nil {
		return nil, err
	}

	candidates := make([]models.Candidate, 0, len(records))
	skipped := 0
	for i := range records {
		rec := &records[i]
		if !rec.HasLocation() {
			skipped++
			continue
		}

		distance := geo.Haversine(req.Point, rec.Location())
		relative := 0.0
		if distance > 0 {
			// bearing is undefined for coincident points; treat them
			// as directly ahead
			bearing := geo.InitialBearing(req.Point, rec.Location())
			relative = geo.RelativeDirection(bearing, req.Heading)
		}

		candidates = append(candidates, models.Candidate{
			Record:            rec,
			DistanceMeters:    distance,
			RelativeDirection: relative,
		})
	}
	if skipped > 0 {
		log.Printf("selector: skipped %d record(s) without location", skipped)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].DistanceMeters != candidates[j].DistanceMeters {
			return candidates[i].DistanceMeters < candidates[j].DistanceMeters
		}
		return candidates[i].Record.ID < candidates[j].Record.ID
	})

	if req.MaxCount > 0 && len(candidates) > req.MaxCount {
		candidates = candidates[:req.MaxCount]
	}
	return candidates, nil
}
