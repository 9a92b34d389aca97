package agent

import (
	"context"
	"strings"
)

// ImagePayload is one image attached to a model query, as a JPEG data URI
// tagged with the direction it was taken from.
type ImagePayload struct {
	Position string
	DataURI  string
}

// Result is the parsed output of a model call.
type Result struct {
	Description string `json:"description"`
	Translated  string `json:"translated"`
	Lang        string `json:"lang"`
}

// Agent is the narrow interface the synthesizer drives. Implementations
// must classify failures with apperrors kinds so the caller can decide
// whether to retry.
type Agent interface {
	QueryWithImages(ctx context.Context, prompt string, images []ImagePayload) (*Result, error)
	Name() string
}

// DataURIPrefix is the JPEG data-URI prefix both backends expect.
const DataURIPrefix = "data:image/jpeg;base64,"

// StripDataURI returns the bare base64 payload of a data URI. URIs without
// a recognized prefix are returned unchanged.
func StripDataURI(uri string) string {
	if idx := strings.Index(uri, "base64,"); idx >= 0 {
		return uri[idx+len("base64,"):]
	}
	return uri
}

// EnsureDataURI prepends the JPEG data-URI prefix when missing.
func EnsureDataURI(encoded string) string {
	if strings.HasPrefix(encoded, "data:") {
		return encoded
	}
	return DataURIPrefix + encoded
}
