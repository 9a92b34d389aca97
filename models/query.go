package models

import (
	"encoding/json"

	"github.com/miyagawa-lab/geonarrator/geo"
)

// QueryRequest captures one candidate-selection query. It is never
// persisted.
type QueryRequest struct {
	Point       geo.Point
	Heading     float64 // radians, clockwise from north
	MaxDistance float64 // meters, inclusive boundary
	MaxCount    int
	Floor       int // 0 means all floors
}

// Candidate pairs a record with its geometry relative to a query. Derived
// per query, never persisted.
type Candidate struct {
	Record            *ImageRecord
	DistanceMeters    float64
	RelativeDirection float64 // radians, positive = left
}

// MarshalJSON flattens the candidate into its record's wire shape with the
// per-query geometry spliced in, matching the store's document format.
func (c Candidate) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(c.Record)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(base, &doc); err != nil {
		return nil, err
	}
	doc["distance"] = c.DistanceMeters
	doc["relative_direction"] = c.RelativeDirection
	return json.Marshal(doc)
}

// LiveImage is a caller-supplied, non-persisted image payload accompanying
// a description request.
type LiveImage struct {
	Position string `json:"position"`  // front / left / right / back
	ImageURI string `json:"image_uri"` // data URI
}

// SynthesisOptions control a description-synthesis call.
type SynthesisOptions struct {
	Retry            bool
	DryRun           bool
	PromptOverride   string
	Language         string
	LengthIndex      int
	DistanceToTravel float64
	LiveImageOnly    bool
	StopReason       bool
	LiveImages       []LiveImage
}

// SynthesisResult is what the synthesizer hands back to the API layer.
type SynthesisResult struct {
	Description string
	Translated  string
	Language    string
	ElapsedTime float64 // seconds
	Attempts    int
	UsedRecords []*ImageRecord
}
