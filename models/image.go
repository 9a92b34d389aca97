package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/miyagawa-lab/geonarrator/geo"
)

// Description lifecycle states for an ImageRecord.
const (
	StatusPending    = "pending"
	StatusDescribing = "describing"
	StatusDescribed  = "described"
	StatusFailed     = "failed"
)

// ValidTransition reports whether the description state machine allows
// moving from one status to another. retry permits re-entering describing
// from a terminal state.
func ValidTransition(from, to string, retry bool) bool {
	switch {
	case from == StatusPending && to == StatusDescribing:
		return true
	case from == StatusDescribing && (to == StatusDescribed || to == StatusFailed):
		return true
	case retry && (from == StatusFailed || from == StatusDescribed) && to == StatusDescribing:
		return true
	default:
		return false
	}
}

// StringList is a JSON-encoded []string column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		l = StringList{}
	}
	return json.Marshal(l)
}

func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = StringList{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into StringList", value)
	}
	if len(data) == 0 {
		*l = StringList{}
		return nil
	}
	return json.Unmarshal(data, l)
}

// Contains reports whether the list holds the given tag.
func (l StringList) Contains(tag string) bool {
	for _, t := range l {
		if t == tag {
			return true
		}
	}
	return false
}

// ContainsAny reports whether the list holds any of the given tags.
func (l StringList) ContainsAny(tags ...string) bool {
	for _, t := range tags {
		if l.Contains(t) {
			return true
		}
	}
	return false
}

// JSONMap is a JSON-encoded map column, used for the immutable EXIF blob.
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		m = JSONMap{}
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = JSONMap{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", value)
	}
	if len(data) == 0 {
		*m = JSONMap{}
		return nil
	}
	return json.Unmarshal(data, m)
}

// GeoJSONPoint is the wire shape of a record location: coordinates are
// [lng, lat].
type GeoJSONPoint struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

// ImageRecord is a geotagged, heading-tagged photograph and its generated
// description. Corresponds to the 'image_records' table.
type ImageRecord struct {
	ID       string `gorm:"primaryKey" json:"id"`
	Filename string `gorm:"index" json:"filename"`

	// location in decimal degrees, immutable once set
	Lng float64 `gorm:"not null;index" json:"-"`
	Lat float64 `gorm:"not null;index" json:"-"`

	// compass heading in degrees [0, 360) the camera faced at capture
	Direction float64 `gorm:"not null" json:"direction"`

	Floor int `gorm:"not null;default:0" json:"floor"`

	Tags StringList `gorm:"type:text" json:"tags"`
	Exif JSONMap    `gorm:"type:text" json:"exif,omitempty"`

	Description string `json:"description"`

	ContentHash string `gorm:"uniqueIndex;not null" json:"content_hash"`
	ImageRef    string `json:"image_ref,omitempty"`

	Status        string  `gorm:"not null;default:pending" json:"status"`
	FailureReason *string `json:"failure_reason,omitempty"`

	CapturedAt *int64 `gorm:"index" json:"captured_at,omitempty"`
	CreatedAt  int64  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  int64  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName explicitly sets the table name for GORM.
func (ImageRecord) TableName() string {
	return "image_records"
}

// Location returns the record's coordinate.
func (r *ImageRecord) Location() geo.Point {
	return geo.Point{Lng: r.Lng, Lat: r.Lat}
}

// HasLocation reports whether the record carries a usable coordinate.
// Zero/zero ("null island") is treated as missing; it never occurs for
// validated ingests.
func (r *ImageRecord) HasLocation() bool {
	return r.Lng != 0 || r.Lat != 0
}

// MarshalJSON emits the record with its location as a GeoJSON point so the
// wire shape matches the store's document format.
func (r ImageRecord) MarshalJSON() ([]byte, error) {
	type alias ImageRecord
	return json.Marshal(struct {
		alias
		Location GeoJSONPoint `json:"location"`
	}{
		alias: alias(r),
		Location: GeoJSONPoint{
			Type:        "Point",
			Coordinates: [2]float64{r.Lng, r.Lat},
		},
	})
}

// UnmarshalJSON accepts the GeoJSON-location wire shape produced by
// MarshalJSON (and by export files).
func (r *ImageRecord) UnmarshalJSON(data []byte) error {
	type alias ImageRecord
	aux := struct {
		*alias
		Location *GeoJSONPoint `json:"location"`
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Location != nil {
		r.Lng = aux.Location.Coordinates[0]
		r.Lat = aux.Location.Coordinates[1]
	}
	return nil
}
