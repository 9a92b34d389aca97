package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/miyagawa-lab/geonarrator/config"
	"github.com/miyagawa-lab/geonarrator/geo"
	"github.com/miyagawa-lab/geonarrator/models"
	"github.com/miyagawa-lab/geonarrator/services"
)

// LocationHandler serves read-only record queries and the map defaults
// the UI collaborator needs.
type LocationHandler struct {
	Selector        *services.CandidateSelector
	InitialLocation config.InitialLocation
}

// NewLocationHandler creates a new instance of LocationHandler
func NewLocationHandler(selector *services.CandidateSelector, initial config.InitialLocation) *LocationHandler {
	return &LocationHandler{Selector: selector, InitialLocation: initial}
}

// parseFloatQuery reads a float query parameter, falling back when the
// parameter is absent or malformed.
func parseFloatQuery(r *http.Request, name string, fallback float64) float64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return val
}

func parseIntQuery(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return val
}

func parseBoolQuery(r *http.Request, name string) bool {
	raw := r.URL.Query().Get(name)
	return raw == "true" || raw == "1"
}

// requireLatLng parses the mandatory lat/lng pair. The second return is
// false when either is missing or malformed; the error has been written.
func requireLatLng(w http.ResponseWriter, r *http.Request) (geo.Point, bool) {
	q := r.URL.Query()
	latStr, lngStr := q.Get("lat"), q.Get("lng")
	if latStr == "" || lngStr == "" {
		WriteAPIError(w, http.StatusBadRequest, "missing_parameter", "lat and lng query parameters are required")
		return geo.Point{}, false
	}
	lat, err1 := strconv.ParseFloat(latStr, 64)
	lng, err2 := strconv.ParseFloat(lngStr, 64)
	if err1 != nil || err2 != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_parameter", "lat and lng must be decimal degrees")
		return geo.Point{}, false
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		WriteAPIError(w, http.StatusBadRequest, "invalid_parameter", "lat/lng out of range")
		return geo.Point{}, false
	}
	return geo.Point{Lng: lng, Lat: lat}, true
}

// ListLocations handles GET /locations: all records within `distance`
// meters of lat/lng, nearest first. Responds 404 when nothing is in range.
func (h *LocationHandler) ListLocations(w http.ResponseWriter, r *http.Request) {
	point, ok := requireLatLng(w, r)
	if !ok {
		return
	}

	distance := parseFloatQuery(r, "distance", 1000)
	if distance < 0 {
		WriteAPIError(w, http.StatusBadRequest, "invalid_parameter", "distance must be non-negative")
		return
	}

	req := models.QueryRequest{
		Point:       point,
		MaxDistance: distance,
		MaxCount:    -1, // uncapped
		Floor:       parseIntQuery(r, "floor", 0),
	}

	candidates, err := h.Selector.Select(req)
	if err != nil {
		WriteKindedError(w, err)
		return
	}
	if len(candidates) == 0 {
		WriteAPIError(w, http.StatusNotFound, "no_locations", "no images found near the given point")
		return
	}

	writeJSON(w, http.StatusOK, candidates)
}

// GetLocation handles GET /locations/{id}.
func (h *LocationHandler) GetLocation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	record, err := h.Selector.Repo.GetByID(id)
	if err != nil {
		WriteKindedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// GetConfig handles GET /config, handing the UI its initial map center.
func (h *LocationHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"initial_location": h.InitialLocation,
	})
}
