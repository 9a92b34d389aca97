package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/facette/natsort"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/miyagawa-lab/geonarrator/apperrors"
	"github.com/miyagawa-lab/geonarrator/media"
	"github.com/miyagawa-lab/geonarrator/models"
	"github.com/miyagawa-lab/geonarrator/repository"
	"github.com/miyagawa-lab/geonarrator/workers"
)

const maxUploadBytes = 50 << 20 // 50 MB

// ImageHandler owns the ingest and dataset lifecycle endpoints: upload,
// export, import, and deletion.
type ImageHandler struct {
	Repo repository.ImageRecordRepositoryInterface
	Pool *workers.DescribePool
}

// NewImageHandler creates a new instance of ImageHandler
func NewImageHandler(repo repository.ImageRecordRepositoryInterface, pool *workers.DescribePool) *ImageHandler {
	return &ImageHandler{Repo: repo, Pool: pool}
}

// Upload handles POST /upload: one multipart image file plus optional
// floor/tags form fields. Duplicate content (by hash) is returned as-is
// rather than stored twice; retry requeues its description.
func (h *ImageHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "bad_form", fmt.Sprintf("could not parse multipart form: %v", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "missing_file", "multipart field 'file' is required")
		return
	}
	defer file.Close()

	if !media.IsRasterImage(header.Filename) {
		WriteAPIError(w, http.StatusBadRequest, "unsupported_type", fmt.Sprintf("unsupported image type: %s", header.Filename))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "read_error", "could not read uploaded file")
		return
	}

	retry := r.PostFormValue("retry") == "true"
	dryRun := r.PostFormValue("dry_run") == "true"

	hash := media.ContentHash(data)
	if existing, err := h.Repo.GetByContentHash(hash); err == nil {
		log.Printf("Upload of %s matched existing record %s", header.Filename, existing.ID)
		if retry && !dryRun {
			h.Pool.QueueJob(workers.DescribeJob{RecordID: existing.ID, Options: models.SynthesisOptions{Retry: true}})
		}
		writeJSON(w, http.StatusOK, existing)
		return
	} else if apperrors.KindOf(err) != apperrors.KindNotFound {
		WriteKindedError(w, err)
		return
	}

	info, err := media.ExtractCaptureInfo(data)
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "exif_error", fmt.Sprintf("could not read image metadata: %v", err))
		return
	}
	if !info.HasPoint {
		WriteAPIError(w, http.StatusBadRequest, "missing_gps", "image carries no GPS position in its metadata")
		return
	}

	record := &models.ImageRecord{
		ID:          uuid.New().String(),
		Filename:    header.Filename,
		Lng:         info.Point.Lng,
		Lat:         info.Point.Lat,
		Direction:   info.Direction,
		Tags:        parseTagsField(r.PostFormValue("tags")),
		Exif:        info.Exif,
		ContentHash: hash,
		Status:      models.StatusPending,
		CapturedAt:  info.CapturedAt,
	}
	if floorStr := r.PostFormValue("floor"); floorStr != "" {
		floor, err := strconv.Atoi(floorStr)
		if err != nil {
			WriteAPIError(w, http.StatusBadRequest, "invalid_floor", "floor must be an integer")
			return
		}
		record.Floor = floor
	}

	dataURI, err := media.EncodeJPEGDataURI(data, media.IngestMaxSize)
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "decode_error", fmt.Sprintf("could not decode image: %v", err))
		return
	}
	record.ImageRef = dataURI

	if dryRun {
		writeJSON(w, http.StatusOK, record)
		return
	}

	if err := h.Repo.Create(record); err != nil {
		WriteKindedError(w, err)
		return
	}
	h.Pool.QueueJob(workers.DescribeJob{RecordID: record.ID, Options: models.SynthesisOptions{}})

	writeJSON(w, http.StatusCreated, record)
}

func parseTagsField(raw string) models.StringList {
	if raw == "" {
		return models.StringList{}
	}
	var tags models.StringList
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// Export handles GET /export-images: the full dataset as a JSON array,
// naturally ordered by filename so exports diff cleanly.
func (h *ImageHandler) Export(w http.ResponseWriter, r *http.Request) {
	records, err := h.Repo.ListAll()
	if err != nil {
		WriteKindedError(w, err)
		return
	}

	sort.SliceStable(records, func(i, j int) bool {
		return natsort.Compare(records[i].Filename, records[j].Filename)
	})

	w.Header().Set("Content-Disposition", `attachment; filename="images.json"`)
	writeJSON(w, http.StatusOK, records)
}

// Import handles POST /import-images: a JSON array of previously exported
// records, upserted by id.
func (h *ImageHandler) Import(w http.ResponseWriter, r *http.Request) {
	var records []models.ImageRecord
	if err := json.NewDecoder(r.Body).Decode(&records); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_body", fmt.Sprintf("request body must be a JSON array of records: %v", err))
		return
	}

	imported := 0
	for i := range records {
		record := &records[i]
		if record.ID == "" {
			record.ID = uuid.New().String()
		}
		if record.Status == "" {
			record.Status = models.StatusPending
		}
		if err := h.Repo.Upsert(record); err != nil {
			log.Printf("Import: failed to upsert record %s: %v", record.ID, err)
			WriteKindedError(w, err)
			return
		}
		imported++
	}

	log.Printf("Imported %d record(s)", imported)
	writeJSON(w, http.StatusOK, map[string]interface{}{"message": "import complete", "count": imported})
}

// Delete handles DELETE /image/{id}.
func (h *ImageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Repo.Delete(id); err != nil {
		WriteKindedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "image deleted"})
}

// DeleteAll handles DELETE /image: clears the whole dataset.
func (h *ImageHandler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	count, err := h.Repo.DeleteAll()
	if err != nil {
		WriteKindedError(w, err)
		return
	}
	log.Printf("Deleted all %d record(s)", count)
	writeJSON(w, http.StatusOK, map[string]interface{}{"message": "all images deleted", "count": count})
}
