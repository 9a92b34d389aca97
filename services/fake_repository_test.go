package services

import (
	"fmt"
	"sync"

	"github.com/miyagawa-lab/geonarrator/apperrors"
	"github.com/miyagawa-lab/geonarrator/geo"
	"github.com/miyagawa-lab/geonarrator/models"
)

// fakeRepository is an in-memory ImageRecordRepositoryInterface for
// service tests.
type fakeRepository struct {
	mu      sync.Mutex
	records map[string]*models.ImageRecord
}

func newFakeRepository(records ...*models.ImageRecord) *fakeRepository {
	repo := &fakeRepository{records: make(map[string]*models.ImageRecord)}
	for _, r := range records {
		if r.Status == "" {
			r.Status = models.StatusPending
		}
		repo.records[r.ID] = r
	}
	return repo
}

func (f *fakeRepository) clone(r *models.ImageRecord) *models.ImageRecord {
	cp := *r
	return &cp
}

func (f *fakeRepository) Create(record *models.ImageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[record.ID]; ok {
		return apperrors.Newf(apperrors.KindValidation, "duplicate id %s", record.ID)
	}
	f.records[record.ID] = f.clone(record)
	return nil
}

func (f *fakeRepository) GetByID(id string) (*models.ImageRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return nil, apperrors.Newf(apperrors.KindNotFound, "record %s not found", id)
	}
	return f.clone(r), nil
}

func (f *fakeRepository) GetByContentHash(hash string) (*models.ImageRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.ContentHash == hash {
			return f.clone(r), nil
		}
	}
	return nil, apperrors.Newf(apperrors.KindNotFound, "no record with hash %s", hash)
}

func (f *fakeRepository) ListAll() ([]models.ImageRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.ImageRecord, 0, len(f.records))
	for _, r := range f.records {
		out = append(out, *r)
	}
	return out, nil
}

func (f *fakeRepository) QueryNear(p geo.Point, radiusMeters float64, floor int) ([]models.ImageRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ImageRecord
	for _, r := range f.records {
		if floor != 0 && r.Floor != floor {
			continue
		}
		if !r.HasLocation() {
			out = append(out, *r)
			continue
		}
		if geo.Haversine(p, r.Location()) <= radiusMeters {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeRepository) Upsert(record *models.ImageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[record.ID]; !ok && record.ContentHash != "" {
		// unknown id with a known hash resolves to the stored record
		for _, r := range f.records {
			if r.ContentHash == record.ContentHash {
				record.ID = r.ID
				break
			}
		}
	}
	f.records[record.ID] = f.clone(record)
	return nil
}

func (f *fakeRepository) Delete(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[id]; !ok {
		return apperrors.Newf(apperrors.KindNotFound, "record %s not found", id)
	}
	delete(f.records, id)
	return nil
}

func (f *fakeRepository) DeleteAll() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := int64(len(f.records))
	f.records = make(map[string]*models.ImageRecord)
	return n, nil
}

func (f *fakeRepository) MarkDescribing(id string, retry bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return apperrors.Newf(apperrors.KindNotFound, "record %s not found", id)
	}
	if !models.ValidTransition(r.Status, models.StatusDescribing, retry) {
		if r.Status == models.StatusDescribing {
			return apperrors.Newf(apperrors.KindConcurrencyRejected, "record %s is already being described", id)
		}
		return apperrors.Newf(apperrors.KindValidation, "record %s cannot move from %s to describing", id, r.Status)
	}
	r.Status = models.StatusDescribing
	r.FailureReason = nil
	return nil
}

func (f *fakeRepository) UpdateDescriptionResult(id, description string, taskErr error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return apperrors.Newf(apperrors.KindNotFound, "record %s not found", id)
	}
	if taskErr != nil {
		reason := taskErr.Error()
		r.Status = models.StatusFailed
		r.FailureReason = &reason
		return nil
	}
	r.Status = models.StatusDescribed
	r.Description = description
	r.FailureReason = nil
	return nil
}

func (f *fakeRepository) AddTag(id, tag string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return nil, apperrors.Newf(apperrors.KindNotFound, "record %s not found", id)
	}
	if !r.Tags.Contains(tag) {
		r.Tags = append(r.Tags, tag)
	}
	return r.Tags, nil
}

func (f *fakeRepository) RemoveTag(id, tag string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return nil, apperrors.Newf(apperrors.KindNotFound, "record %s not found", id)
	}
	kept := r.Tags[:0]
	for _, t := range r.Tags {
		if t != tag {
			kept = append(kept, t)
		}
	}
	r.Tags = kept
	return r.Tags, nil
}

func (f *fakeRepository) ClearTags(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return apperrors.Newf(apperrors.KindNotFound, "record %s not found", id)
	}
	r.Tags = models.StringList{}
	return nil
}

func (f *fakeRepository) SetDescription(id, description string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return apperrors.Newf(apperrors.KindNotFound, "record %s not found", id)
	}
	r.Description = description
	return nil
}

func (f *fakeRepository) SetFloor(id string, floor int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return apperrors.Newf(apperrors.KindNotFound, "record %s not found", id)
	}
	r.Floor = floor
	return nil
}

func (f *fakeRepository) status(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.records[id]; ok {
		return r.Status
	}
	return fmt.Sprintf("<missing %s>", id)
}
