package handlers

import (
	"net/http"
	"strconv"

	"github.com/miyagawa-lab/geonarrator/repository"
)

// EditHandler serves the per-record curation endpoints used by the
// annotation UI: tags, manual descriptions, and floor corrections.
type EditHandler struct {
	Repo repository.ImageRecordRepositoryInterface
}

// NewEditHandler creates a new instance of EditHandler
func NewEditHandler(repo repository.ImageRecordRepositoryInterface) *EditHandler {
	return &EditHandler{Repo: repo}
}

// requireIDAndField reads the record id from the query string and one form
// field from the body. It writes the error response itself on failure.
func requireIDAndField(w http.ResponseWriter, r *http.Request, field string) (id, value string, ok bool) {
	id = r.URL.Query().Get("id")
	if id == "" {
		WriteAPIError(w, http.StatusBadRequest, "missing_parameter", "id query parameter is required")
		return "", "", false
	}
	if err := r.ParseForm(); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "bad_form", "could not parse form body")
		return "", "", false
	}
	value = r.PostFormValue(field)
	if value == "" {
		WriteAPIError(w, http.StatusBadRequest, "missing_parameter", field+" form field is required")
		return "", "", false
	}
	return id, value, true
}

// AddTag handles POST /add_tag.
func (h *EditHandler) AddTag(w http.ResponseWriter, r *http.Request) {
	id, tag, ok := requireIDAndField(w, r, "tag")
	if !ok {
		return
	}
	tags, err := h.Repo.AddTag(id, tag)
	if err != nil {
		WriteKindedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"message": "tag added", "tags": tags})
}

// RemoveTag handles POST /remove_tag.
func (h *EditHandler) RemoveTag(w http.ResponseWriter, r *http.Request) {
	id, tag, ok := requireIDAndField(w, r, "tag")
	if !ok {
		return
	}
	tags, err := h.Repo.RemoveTag(id, tag)
	if err != nil {
		WriteKindedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"message": "tag removed", "tags": tags})
}

// ClearTags handles POST /clear_tag.
func (h *EditHandler) ClearTags(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		WriteAPIError(w, http.StatusBadRequest, "missing_parameter", "id query parameter is required")
		return
	}
	if err := h.Repo.ClearTags(id); err != nil {
		WriteKindedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "tags cleared"})
}

// UpdateDescription handles POST /update_description: an operator
// overrides the generated text.
func (h *EditHandler) UpdateDescription(w http.ResponseWriter, r *http.Request) {
	id, description, ok := requireIDAndField(w, r, "description")
	if !ok {
		return
	}
	if err := h.Repo.SetDescription(id, description); err != nil {
		WriteKindedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "description updated"})
}

// UpdateFloor handles POST /update_floor.
func (h *EditHandler) UpdateFloor(w http.ResponseWriter, r *http.Request) {
	id, floorStr, ok := requireIDAndField(w, r, "floor")
	if !ok {
		return
	}
	floor, err := strconv.Atoi(floorStr)
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_floor", "floor must be an integer")
		return
	}
	if err := h.Repo.SetFloor(id, floor); err != nil {
		WriteKindedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "floor updated"})
}
