package agent

import (
	"context"
	"crypto/sha256"
	"fmt"
)

// DummyAgent is the deterministic offline backend used for development and
// dry runs. Identical inputs always produce identical output and no
// network traffic ever occurs.
type DummyAgent struct{}

func NewDummyAgent() *DummyAgent { return &DummyAgent{} }

func (a *DummyAgent) Name() string { return "dummy" }

// QueryWithImages returns a placeholder derived from a digest of the
// inputs so cache behavior is observable in tests.
func (a *DummyAgent) QueryWithImages(_ context.Context, prompt string, images []ImagePayload) (*Result, error) {
	h := sha256.New()
	h.Write([]byte(prompt))
	for _, img := range images {
		h.Write([]byte(img.Position))
		h.Write([]byte(img.DataURI))
	}
	digest := fmt.Sprintf("%x", h.Sum(nil))[:12]

	return &Result{
		Description: fmt.Sprintf("dummy description (%d images, digest %s)", len(images), digest),
		Translated:  fmt.Sprintf("dummy translation (digest %s)", digest),
		Lang:        "ja",
	}, nil
}
