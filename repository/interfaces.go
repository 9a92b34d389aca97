package repository

import (
	"github.com/miyagawa-lab/geonarrator/geo"
	"github.com/miyagawa-lab/geonarrator/models"
)

// ImageRecordRepositoryInterface defines the store surface the core depends
// on: keyed CRUD, the geospatial range query, and the status/description
// mutations owned by the synthesizer.
type ImageRecordRepositoryInterface interface {
	Create(record *models.ImageRecord) error
	GetByID(id string) (*models.ImageRecord, error)
	GetByContentHash(hash string) (*models.ImageRecord, error)
	ListAll() ([]models.ImageRecord, error)
	QueryNear(p geo.Point, radiusMeters float64, floor int) ([]models.ImageRecord, error)
	Upsert(record *models.ImageRecord) error
	Delete(id string) error
	DeleteAll() (int64, error)

	MarkDescribing(id string, retry bool) error
	UpdateDescriptionResult(id, description string, taskErr error) error

	AddTag(id, tag string) ([]string, error)
	RemoveTag(id, tag string) ([]string, error)
	ClearTags(id string) error
	SetDescription(id, description string) error
	SetFloor(id string, floor int) error
}
