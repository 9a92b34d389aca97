package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miyagawa-lab/geonarrator/apperrors"
	"github.com/miyagawa-lab/geonarrator/geo"
	"github.com/miyagawa-lab/geonarrator/media"
	"github.com/miyagawa-lab/geonarrator/models"
)

// memoryStore is an in-memory stand-in for the record repository, keeping
// the same upsert-by-id-or-hash contract as the real one.
type memoryStore struct {
	mu      sync.Mutex
	records map[string]*models.ImageRecord
}

func newMemoryStore(records ...*models.ImageRecord) *memoryStore {
	s := &memoryStore{records: make(map[string]*models.ImageRecord)}
	for _, r := range records {
		cp := *r
		s.records[r.ID] = &cp
	}
	return s
}

func (s *memoryStore) Create(record *models.ImageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *record
	s.records[record.ID] = &cp
	return nil
}

func (s *memoryStore) GetByID(id string) (*models.ImageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[id]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, apperrors.Newf(apperrors.KindNotFound, "image record %s not found", id)
}

func (s *memoryStore) GetByContentHash(hash string) (*models.ImageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.ContentHash == hash {
			cp := *r
			return &cp, nil
		}
	}
	return nil, apperrors.Newf(apperrors.KindNotFound, "no image record with hash %s", hash)
}

func (s *memoryStore) ListAll() ([]models.ImageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ImageRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, *r)
	}
	return out, nil
}

func (s *memoryStore) QueryNear(p geo.Point, radiusMeters float64, floor int) ([]models.ImageRecord, error) {
	return s.ListAll()
}

func (s *memoryStore) Upsert(record *models.ImageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[record.ID]; !ok && record.ContentHash != "" {
		for _, r := range s.records {
			if r.ContentHash == record.ContentHash {
				record.ID = r.ID
				break
			}
		}
	}
	cp := *record
	s.records[record.ID] = &cp
	return nil
}

func (s *memoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return apperrors.Newf(apperrors.KindNotFound, "image record %s not found", id)
	}
	delete(s.records, id)
	return nil
}

func (s *memoryStore) DeleteAll() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.records))
	s.records = make(map[string]*models.ImageRecord)
	return n, nil
}

func (s *memoryStore) MarkDescribing(id string, retry bool) error { return nil }

func (s *memoryStore) UpdateDescriptionResult(id, description string, taskErr error) error {
	return nil
}

func (s *memoryStore) AddTag(id, tag string) ([]string, error)    { return nil, nil }
func (s *memoryStore) RemoveTag(id, tag string) ([]string, error) { return nil, nil }
func (s *memoryStore) ClearTags(id string) error                  { return nil }
func (s *memoryStore) SetDescription(id, description string) error {
	return nil
}
func (s *memoryStore) SetFloor(id string, floor int) error { return nil }

func exportRecord(id, hash, description string) *models.ImageRecord {
	return &models.ImageRecord{
		ID:          id,
		Filename:    id + ".jpg",
		Lng:         139.775,
		Lat:         35.624,
		Direction:   45,
		Floor:       2,
		Tags:        models.StringList{"sign"},
		Description: description,
		ContentHash: hash,
		Status:      models.StatusDescribed,
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	source := newMemoryStore(
		exportRecord("id-1", "hash-1", "a kiosk"),
		exportRecord("id-2", "hash-2", "a bench"),
	)
	exportHandler := NewImageHandler(source, nil)

	rec := httptest.NewRecorder()
	exportHandler.Export(rec, httptest.NewRequest("GET", "/export-images", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	dest := newMemoryStore()
	importHandler := NewImageHandler(dest, nil)

	importRec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/import-images", bytes.NewReader(rec.Body.Bytes()))
	importHandler.Import(importRec, req)
	require.Equal(t, http.StatusOK, importRec.Code)

	restored, err := dest.ListAll()
	require.NoError(t, err)
	require.Len(t, restored, 2)

	byID := map[string]models.ImageRecord{}
	for _, r := range restored {
		byID[r.ID] = r
	}
	for _, want := range []string{"id-1", "id-2"} {
		got, ok := byID[want]
		require.True(t, ok, "record %s missing after round trip", want)
		orig, _ := source.GetByID(want)
		assert.Equal(t, orig.Filename, got.Filename)
		assert.Equal(t, orig.Lng, got.Lng)
		assert.Equal(t, orig.Lat, got.Lat)
		assert.Equal(t, orig.Direction, got.Direction)
		assert.Equal(t, orig.Floor, got.Floor)
		assert.Equal(t, orig.Tags, got.Tags)
		assert.Equal(t, orig.Description, got.Description)
		assert.Equal(t, orig.ContentHash, got.ContentHash)
		assert.Equal(t, orig.Status, got.Status)
	}
}

func TestImportResolvesExistingContentHash(t *testing.T) {
	dest := newMemoryStore(exportRecord("id-old", "hash-1", "stale"))
	handler := NewImageHandler(dest, nil)

	payload, err := json.Marshal([]*models.ImageRecord{
		exportRecord("id-new", "hash-1", "refreshed"),
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.Import(rec, httptest.NewRequest("POST", "/import-images", bytes.NewReader(payload)))
	require.Equal(t, http.StatusOK, rec.Code)

	records, err := dest.ListAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "id-old", records[0].ID)
	assert.Equal(t, "refreshed", records[0].Description)
}

func multipartUpload(t *testing.T, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest("POST", "/upload", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestUploadDeduplicatesByContentHash(t *testing.T) {
	content := []byte("same image bytes")
	existing := exportRecord("id-1", media.ContentHash(content), "already stored")
	store := newMemoryStore(existing)
	handler := NewImageHandler(store, nil)

	rec := httptest.NewRecorder()
	handler.Upload(rec, multipartUpload(t, "duplicate.jpg", content))
	require.Equal(t, http.StatusOK, rec.Code)

	var got models.ImageRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "id-1", got.ID)

	records, err := store.ListAll()
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	handler := NewImageHandler(newMemoryStore(), nil)

	rec := httptest.NewRecorder()
	handler.Upload(rec, multipartUpload(t, "notes.txt", []byte("plain text")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
