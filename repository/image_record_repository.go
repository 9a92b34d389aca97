package repository

import (
	"errors"
	"fmt"
	"sort"

	"gorm.io/gorm"

	"github.com/miyagawa-lab/geonarrator/apperrors"
	"github.com/miyagawa-lab/geonarrator/database"
	"github.com/miyagawa-lab/geonarrator/geo"
	"github.com/miyagawa-lab/geonarrator/models"
)

// ImageRecordRepository handles database operations for ImageRecord
// entities and implements the geospatial range query.
type ImageRecordRepository struct {
	DB *gorm.DB
}

// NewImageRecordRepository creates a new instance of ImageRecordRepository
func NewImageRecordRepository(db *gorm.DB) *ImageRecordRepository {
	return &ImageRecordRepository{DB: db}
}

// Create inserts a new record. Location and direction must already be
// validated; direction is normalized to [0, 360).
func (r *ImageRecordRepository) Create(record *models.ImageRecord) error {
	record.Direction = geo.NormalizeDegrees(record.Direction)
	if record.Status == "" {
		record.Status = models.StatusPending
	}
	if err := r.DB.Create(record).Error; err != nil {
		return apperrors.New(apperrors.KindPersistence, fmt.Errorf("failed to create image record: %w", err))
	}
	return nil
}

// GetByID retrieves a record by its id.
func (r *ImageRecordRepository) GetByID(id string) (*models.ImageRecord, error) {
	var record models.ImageRecord
	err := r.DB.Where("id = ?", id).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.Newf(apperrors.KindNotFound, "image record %s not found", id)
		}
		return nil, apperrors.New(apperrors.KindPersistence, fmt.Errorf("failed to get image record %s: %w", id, err))
	}
	return &record, nil
}

// GetByContentHash retrieves a record by its content hash, used for ingest
// de-duplication.
func (r *ImageRecordRepository) GetByContentHash(hash string) (*models.ImageRecord, error) {
	var record models.ImageRecord
	err := r.DB.Where("content_hash = ?", hash).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.Newf(apperrors.KindNotFound, "no image record with hash %s", hash)
		}
		return nil, apperrors.New(apperrors.KindPersistence, fmt.Errorf("failed to get image record by hash: %w", err))
	}
	return &record, nil
}

// ListAll returns every record, used by export.
func (r *ImageRecordRepository) ListAll() ([]models.ImageRecord, error) {
	var records []models.ImageRecord
	if err := r.DB.Find(&records).Error; err != nil {
		return nil, apperrors.New(apperrors.KindPersistence, fmt.Errorf("failed to list image records: %w", err))
	}
	return records, nil
}

// QueryNear returns all records within radiusMeters of p (inclusive
// boundary), optionally restricted to a floor (0 = all floors), ordered by
// distance then id. A squirrel-built bounding-box predicate narrows the
// scan; exact haversine distances decide membership.
func (r *ImageRecordRepository) QueryNear(p geo.Point, radiusMeters float64, floor int) ([]models.ImageRecord, error) {
	cond, args, err := database.NearConditions(p, radiusMeters, floor)
	if err != nil {
		return nil, apperrors.New(apperrors.KindPersistence, fmt.Errorf("failed to build near query: %w", err))
	}

	var scanned []models.ImageRecord
	if err := r.DB.Where(cond, args...).Find(&scanned).Error; err != nil {
		return nil, apperrors.New(apperrors.KindPersistence, fmt.Errorf("failed to run near query: %w", err))
	}

	type withDistance struct {
		record   models.ImageRecord
		distance float64
	}
	within := make([]withDistance, 0, len(scanned))
	for _, rec := range scanned {
		d := geo.Haversine(p, rec.Location())
		if d <= radiusMeters {
			within = append(within, withDistance{record: rec, distance: d})
		}
	}
	sort.Slice(within, func(i, j int) bool {
		if within[i].distance != within[j].distance {
			return within[i].distance < within[j].distance
		}
		return within[i].record.ID < within[j].record.ID
	})

	records := make([]models.ImageRecord, len(within))
	for i, wd := range within {
		records[i] = wd.record
	}
	return records, nil
}

// Upsert replaces a record by id, creating it if missing. When the id is
// unknown but the content hash matches a stored record, the stored record
// is updated in place so identical content never duplicates. Used by
// import.
func (r *ImageRecordRepository) Upsert(record *models.ImageRecord) error {
	record.Direction = geo.NormalizeDegrees(record.Direction)
	if record.Status == "" {
		record.Status = models.StatusPending
	}

	err := r.DB.Transaction(func(tx *gorm.DB) error {
		var existing models.ImageRecord
		err := tx.Where("id = ?", record.ID).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) && record.ContentHash != "" {
			err = tx.Where("content_hash = ?", record.ContentHash).First(&existing).Error
			if err == nil {
				record.ID = existing.ID
			}
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return tx.Save(record).Error
	})
	if err != nil {
		return apperrors.New(apperrors.KindPersistence, fmt.Errorf("failed to upsert image record %s: %w", record.ID, err))
	}
	return nil
}

// Delete removes a record by id.
func (r *ImageRecordRepository) Delete(id string) error {
	result := r.DB.Where("id = ?", id).Delete(&models.ImageRecord{})
	if result.Error != nil {
		return apperrors.New(apperrors.KindPersistence, fmt.Errorf("failed to delete image record %s: %w", id, result.Error))
	}
	if result.RowsAffected == 0 {
		return apperrors.Newf(apperrors.KindNotFound, "image record %s not found", id)
	}
	return nil
}

// DeleteAll removes every record and returns the number deleted.
func (r *ImageRecordRepository) DeleteAll() (int64, error) {
	result := r.DB.Where("1 = 1").Delete(&models.ImageRecord{})
	if result.Error != nil {
		return 0, apperrors.New(apperrors.KindPersistence, fmt.Errorf("failed to delete image records: %w", result.Error))
	}
	return result.RowsAffected, nil
}

// MarkDescribing moves a record into the describing state, enforcing the
// status machine: pending may always enter describing; described and failed
// only when retry is set; a record already describing is rejected so a
// concurrent request never starts a second model call.
func (r *ImageRecordRepository) MarkDescribing(id string, retry bool) error {
	allowed := []string{models.StatusPending}
	if retry {
		allowed = append(allowed, models.StatusDescribed, models.StatusFailed)
	}

	result := r.DB.Model(&models.ImageRecord{}).
		Where("id = ? AND status IN ?", id, allowed).
		Updates(map[string]interface{}{
			"status":         models.StatusDescribing,
			"failure_reason": gorm.Expr("NULL"),
		})
	if result.Error != nil {
		return apperrors.New(apperrors.KindPersistence, fmt.Errorf("failed to mark record %s describing: %w", id, result.Error))
	}
	if result.RowsAffected == 0 {
		record, err := r.GetByID(id)
		if err != nil {
			return err
		}
		if record.Status == models.StatusDescribing {
			return apperrors.Newf(apperrors.KindConcurrencyRejected, "record %s is already being described", id)
		}
		return apperrors.Newf(apperrors.KindValidation, "record %s cannot move from %s to %s", id, record.Status, models.StatusDescribing)
	}
	return nil
}

// UpdateDescriptionResult finishes a synthesis: success stores the
// description and marks the record described, failure records the reason
// and marks it failed.
func (r *ImageRecordRepository) UpdateDescriptionResult(id, description string, taskErr error) error {
	updates := map[string]interface{}{}
	if taskErr != nil {
		reason := taskErr.Error()
		updates["status"] = models.StatusFailed
		updates["failure_reason"] = reason
	} else {
		updates["status"] = models.StatusDescribed
		updates["description"] = description
		updates["failure_reason"] = gorm.Expr("NULL")
	}

	result := r.DB.Model(&models.ImageRecord{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return apperrors.New(apperrors.KindPersistence, fmt.Errorf("failed to update description result for %s: %w", id, result.Error))
	}
	if result.RowsAffected == 0 {
		return apperrors.Newf(apperrors.KindNotFound, "image record %s not found", id)
	}
	return nil
}

// AddTag appends a tag if not already present and returns the full tag set.
func (r *ImageRecordRepository) AddTag(id, tag string) ([]string, error) {
	var tags []string
	err := r.DB.Transaction(func(tx *gorm.DB) error {
		var record models.ImageRecord
		if err := tx.Where("id = ?", id).First(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.Newf(apperrors.KindNotFound, "image record %s not found", id)
			}
			return fmt.Errorf("failed to load record %s: %w", id, err)
		}
		if record.Tags.Contains(tag) {
			tags = record.Tags
			return nil
		}
		record.Tags = append(record.Tags, tag)
		tags = record.Tags
		return tx.Model(&models.ImageRecord{}).Where("id = ?", id).Update("tags", record.Tags).Error
	})
	if err != nil {
		if apperrors.Is(err, apperrors.KindNotFound) {
			return nil, err
		}
		return nil, apperrors.New(apperrors.KindPersistence, err)
	}
	return tags, nil
}

// RemoveTag drops a tag and returns the remaining tag set.
func (r *ImageRecordRepository) RemoveTag(id, tag string) ([]string, error) {
	var tags []string
	err := r.DB.Transaction(func(tx *gorm.DB) error {
		var record models.ImageRecord
		if err := tx.Where("id = ?", id).First(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.Newf(apperrors.KindNotFound, "image record %s not found", id)
			}
			return fmt.Errorf("failed to load record %s: %w", id, err)
		}
		remaining := make(models.StringList, 0, len(record.Tags))
		for _, t := range record.Tags {
			if t != tag {
				remaining = append(remaining, t)
			}
		}
		tags = remaining
		return tx.Model(&models.ImageRecord{}).Where("id = ?", id).Update("tags", remaining).Error
	})
	if err != nil {
		if apperrors.Is(err, apperrors.KindNotFound) {
			return nil, err
		}
		return nil, apperrors.New(apperrors.KindPersistence, err)
	}
	return tags, nil
}

// ClearTags removes every tag from a record.
func (r *ImageRecordRepository) ClearTags(id string) error {
	return r.updateField(id, "tags", models.StringList{})
}

// SetDescription applies a user edit to the free-text description.
func (r *ImageRecordRepository) SetDescription(id, description string) error {
	return r.updateField(id, "description", description)
}

// SetFloor assigns the floor label.
func (r *ImageRecordRepository) SetFloor(id string, floor int) error {
	return r.updateField(id, "floor", floor)
}

func (r *ImageRecordRepository) updateField(id, column string, value interface{}) error {
	result := r.DB.Model(&models.ImageRecord{}).Where("id = ?", id).Update(column, value)
	if result.Error != nil {
		return apperrors.New(apperrors.KindPersistence, fmt.Errorf("failed to update %s for %s: %w", column, id, result.Error))
	}
	if result.RowsAffected == 0 {
		return apperrors.Newf(apperrors.KindNotFound, "image record %s not found", id)
	}
	return nil
}
