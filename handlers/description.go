package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/miyagawa-lab/geonarrator/geo"
	"github.com/miyagawa-lab/geonarrator/models"
	"github.com/miyagawa-lab/geonarrator/services"
)

// DescriptionHandler serves the narration endpoints: surround
// descriptions from stored records, live-image descriptions, and stop
// reason analyses.
type DescriptionHandler struct {
	Synthesizer *services.DescriptionSynthesizer
}

// NewDescriptionHandler creates a new instance of DescriptionHandler
func NewDescriptionHandler(synth *services.DescriptionSynthesizer) *DescriptionHandler {
	return &DescriptionHandler{Synthesizer: synth}
}

// descriptionResponse is the wire shape shared by all narration endpoints.
type descriptionResponse struct {
	Locations   []models.Candidate `json:"locations"`
	ElapsedTime float64            `json:"elapsed_time"`
	Description string             `json:"description"`
	Translated  string             `json:"translated,omitempty"`
	Lang        string             `json:"lang"`
}

// parseQueryRequest builds the candidate query from request parameters.
// Heading comes in as `rotation`, compass degrees.
func parseQueryRequest(r *http.Request, point geo.Point, defaultDistance float64) models.QueryRequest {
	return models.QueryRequest{
		Point:       point,
		Heading:     geo.DirectionRadians(parseFloatQuery(r, "rotation", 0)),
		MaxDistance: parseFloatQuery(r, "max_distance", defaultDistance),
		MaxCount:    parseIntQuery(r, "max_count", 10),
		Floor:       parseIntQuery(r, "floor", 0),
	}
}

// validQuery rejects caller-supplied negative ranges before anything
// touches the store or the model.
func validQuery(w http.ResponseWriter, req models.QueryRequest) bool {
	if req.MaxDistance < 0 || req.MaxCount < 0 {
		WriteAPIError(w, http.StatusBadRequest, "invalid_parameter", "max_distance and max_count must be non-negative")
		return false
	}
	return true
}

func parseSynthesisOptions(r *http.Request) models.SynthesisOptions {
	lengthIndex := parseIntQuery(r, "length_index", -1)
	if lengthIndex < 0 {
		// older clients send sentence_length
		lengthIndex = parseIntQuery(r, "sentence_length", 3)
	}
	return models.SynthesisOptions{
		Retry:            parseBoolQuery(r, "retry"),
		DryRun:           parseBoolQuery(r, "dry_run"),
		PromptOverride:   r.URL.Query().Get("prompt"),
		Language:         parseStringQuery(r, "lang", "ja"),
		LengthIndex:      lengthIndex,
		DistanceToTravel: parseFloatQuery(r, "distance_to_travel", 51),
	}
}

func parseStringQuery(r *http.Request, name, fallback string) string {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	return raw
}

// decodeLiveImages reads the optional JSON body of live image payloads.
func decodeLiveImages(r *http.Request) ([]models.LiveImage, error) {
	if r.Body == nil || r.ContentLength == 0 {
		return nil, nil
	}
	var images []models.LiveImage
	if err := json.NewDecoder(r.Body).Decode(&images); err != nil {
		return nil, err
	}
	return images, nil
}

func (h *DescriptionHandler) respond(w http.ResponseWriter, result *models.SynthesisResult, candidates []models.Candidate, err error) {
	if err != nil {
		WriteKindedError(w, err)
		return
	}
	if candidates == nil {
		candidates = []models.Candidate{}
	}
	writeJSON(w, http.StatusOK, descriptionResponse{
		Locations:   candidates,
		ElapsedTime: result.ElapsedTime,
		Description: result.Description,
		Translated:  result.Translated,
		Lang:        result.Language,
	})
}

// Describe handles GET /description: a surround narration built from the
// stored records around the query point.
func (h *DescriptionHandler) Describe(w http.ResponseWriter, r *http.Request) {
	point, ok := requireLatLng(w, r)
	if !ok {
		return
	}

	req := parseQueryRequest(r, point, 100)
	if !validQuery(w, req) {
		return
	}
	opts := parseSynthesisOptions(r)

	result, candidates, err := h.Synthesizer.Surround(r.Context(), req, opts)
	h.respond(w, result, candidates, err)
}

// DescribeWithLiveImage handles POST /description_with_live_image: the
// caller's camera frames augment (or replace) the stored candidates.
func (h *DescriptionHandler) DescribeWithLiveImage(w http.ResponseWriter, r *http.Request) {
	point, ok := requireLatLng(w, r)
	if !ok {
		return
	}

	liveImages, err := decodeLiveImages(r)
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_body", "request body must be a JSON array of live images")
		return
	}

	req := parseQueryRequest(r, point, 15)
	if !validQuery(w, req) {
		return
	}
	opts := parseSynthesisOptions(r)
	opts.LiveImageOnly = parseBoolQuery(r, "use_live_image_only")
	opts.LiveImages = liveImages

	result, candidates, err := h.Synthesizer.Surround(r.Context(), req, opts)
	h.respond(w, result, candidates, err)
}

// StopReason handles POST /stop_reason: explain why the vehicle ahead has
// stopped, from forward-facing live frames only.
func (h *DescriptionHandler) StopReason(w http.ResponseWriter, r *http.Request) {
	point, ok := requireLatLng(w, r)
	if !ok {
		return
	}

	liveImages, err := decodeLiveImages(r)
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_body", "request body must be a JSON array of live images")
		return
	}

	req := parseQueryRequest(r, point, 15)
	if !validQuery(w, req) {
		return
	}
	opts := parseSynthesisOptions(r)
	opts.StopReason = true
	opts.LiveImages = liveImages

	result, candidates, err := h.Synthesizer.Surround(r.Context(), req, opts)
	h.respond(w, result, candidates, err)
}
