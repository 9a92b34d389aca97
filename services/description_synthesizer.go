package services

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/miyagawa-lab/geonarrator/agent"
	"github.com/miyagawa-lab/geonarrator/apperrors"
	"github.com/miyagawa-lab/geonarrator/geo"
	"github.com/miyagawa-lab/geonarrator/models"
	"github.com/miyagawa-lab/geonarrator/repository"
)

// Tags that promote a pre-authored description into the surround prompt.
const (
	TagSign         = "sign"
	TagPOI          = "poi"
	TagHighPriority = "highpriority"
)

// SynthesizerOptions configure a DescriptionSynthesizer.
type SynthesizerOptions struct {
	MaxAttempts         int           // model attempts per synthesis, >= 1
	BaseBackoff         time.Duration // doubled after each transient failure
	MaxConcurrentCalls  int           // global cap on in-flight model calls
	QueueSize           int           // callers allowed to wait beyond the cap
	FrontAngle          float64       // half-width of the front cone, radians
	UsePastExplanations bool
}

func (o *SynthesizerOptions) applyDefaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 500 * time.Millisecond
	}
	if o.MaxConcurrentCalls <= 0 {
		o.MaxConcurrentCalls = 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 16
	}
	if o.FrontAngle <= 0 {
		o.FrontAngle = geo.DirectionRadians(30)
	}
}

type pastDescription struct {
	text  string
	point geo.Point
}

// DescriptionSynthesizer drives the external model with caching, retry,
// single-flight, and backpressure semantics.
type DescriptionSynthesizer struct {
	Repo     repository.ImageRecordRepositoryInterface
	Agent    agent.Agent
	Selector *CandidateSelector

	opts  SynthesizerOptions
	dummy *agent.DummyAgent

	// per-record single-flight: concurrent syntheses of the same record
	// share one model call
	group singleflight.Group
	// calls holds the global cap, slots additionally bounds the waiters
	calls *semaphore.Weighted
	slots *semaphore.Weighted

	pastMu sync.Mutex
	past   []pastDescription
}

// NewDescriptionSynthesizer creates a new instance of DescriptionSynthesizer
func NewDescriptionSynthesizer(repo repository.ImageRecordRepositoryInterface, modelAgent agent.Agent, selector *CandidateSelector, opts SynthesizerOptions) *DescriptionSynthesizer {
	opts.applyDefaults()
	return &DescriptionSynthesizer{
		Repo:     repo,
		Agent:    modelAgent,
		Selector: selector,
		opts:     opts,
		dummy:    agent.NewDummyAgent(),
		calls:    semaphore.NewWeighted(int64(opts.MaxConcurrentCalls)),
		slots:    semaphore.NewWeighted(int64(opts.MaxConcurrentCalls + opts.QueueSize)),
	}
}

// DescribeRecord runs the single-image path for one stored record.
//
// A record already described is returned from cache without any model call
// unless retry is set. Concurrent calls for the same id join one in-flight
// synthesis; the request that holds it runs the model call to completion
// even if its own caller gives up, so joiners can still receive the result.
func (s *DescriptionSynthesizer) DescribeRecord(ctx context.Context, id string, opts models.SynthesisOptions) (*models.SynthesisResult, error) {
	record, err := s.Repo.GetByID(id)
	if err != nil {
		return nil, err
	}

	if record.Status == models.StatusDescribed && !opts.Retry {
		return &models.SynthesisResult{
			Description: record.Description,
			Language:    opts.Language,
			UsedRecords: []*models.ImageRecord{record},
		}, nil
	}

	if opts.DryRun {
		prompt := agent.BuildIngestPrompt(opts.PromptOverride)
		result, _ := s.dummy.QueryWithImages(ctx, prompt, s.recordPayloads(record))
		return &models.SynthesisResult{
			Description: result.Description,
			Translated:  result.Translated,
			Language:    result.Lang,
			UsedRecords: []*models.ImageRecord{record},
		}, nil
	}

	ch := s.group.DoChan(id, func() (interface{}, error) {
		// detached from the requester so the in-flight call survives the
		// requester's timeout
		return s.describeLocked(context.Background(), record, opts)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.SynthesisResult), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *DescriptionSynthesizer) describeLocked(ctx context.Context, record *models.ImageRecord, opts models.SynthesisOptions) (*models.SynthesisResult, error) {
	if err := s.Repo.MarkDescribing(record.ID, opts.Retry); err != nil {
		return nil, err
	}

	prompt := agent.BuildIngestPrompt(opts.PromptOverride)
	start := time.Now()
	result, attempts, callErr := s.callModel(ctx, prompt, s.recordPayloads(record))
	elapsed := time.Since(start).Seconds()

	if callErr != nil {
		if dbErr := s.Repo.UpdateDescriptionResult(record.ID, "", callErr); dbErr != nil {
			log.Printf("synthesizer: failed to record failure for %s: %v", record.ID, dbErr)
		}
		return nil, callErr
	}

	if err := s.Repo.UpdateDescriptionResult(record.ID, result.Description, nil); err != nil {
		return nil, err
	}

	return &models.SynthesisResult{
		Description: result.Description,
		Translated:  result.Translated,
		Language:    result.Lang,
		ElapsedTime: elapsed,
		Attempts:    attempts,
		UsedRecords: []*models.ImageRecord{record},
	}, nil
}

func (s *DescriptionSynthesizer) recordPayloads(record *models.ImageRecord) []agent.ImagePayload {
	if record.ImageRef == "" {
		return nil
	}
	return []agent.ImagePayload{{Position: string(geo.BandFront), DataURI: record.ImageRef}}
}

// Surround runs the composite path: selects candidates around the query,
// folds tagged descriptions into per-direction prompt slots, attaches
// front-facing candidate images plus any caller-supplied live images, and
// returns one combined narration. Persisted records are never mutated.
func (s *DescriptionSynthesizer) Surround(ctx context.Context, req models.QueryRequest, opts models.SynthesisOptions) (*models.SynthesisResult, []models.Candidate, error) {
	candidates, err := s.Selector.Select(req)
	if err != nil {
		return nil, nil, err
	}

	slotFront, slotLeft, slotRight := s.directionSlots(candidates)

	images, usedRecords := s.collectPayloads(candidates, req.MaxCount, opts)

	var tagLines strings.Builder
	for i, img := range images {
		fmt.Fprintf(&tagLines, "image %d: %s\n", i+1, img.Position)
	}

	input := agent.PromptInput{
		Front:            slotFront,
		Right:            slotRight,
		Left:             slotLeft,
		ImageTags:        tagLines.String(),
		PastExplanations: s.pastExplanations(req.Point, req.MaxDistance),
		Lang:             opts.Language,
		LengthIndex:      opts.LengthIndex,
		DistanceToTravel: opts.DistanceToTravel,
		Override:         opts.PromptOverride,
	}

	var prompt string
	if opts.StopReason {
		prompt = agent.BuildStopReasonPrompt(input)
	} else {
		prompt = agent.BuildDescriptionPrompt(input)
	}

	start := time.Now()
	var result *agent.Result
	attempts := 0
	if opts.DryRun {
		result, _ = s.dummy.QueryWithImages(ctx, prompt, images)
	} else {
		result, attempts, err = s.callModel(ctx, prompt, images)
		if err != nil {
			return nil, candidates, err
		}
	}
	elapsed := time.Since(start).Seconds()

	if s.opts.UsePastExplanations && result.Description != "" {
		s.rememberDescription(result.Description, req.Point)
	}

	// request log for later inspection of what was narrated where
	log.Printf("narration: point=(%.6f, %.6f) heading=%.2f candidates=%d images=%d attempts=%d elapsed=%.2fs lang=%s stop_reason=%v dry_run=%v",
		req.Point.Lat, req.Point.Lng, req.Heading, len(candidates), len(images), attempts, elapsed, result.Lang, opts.StopReason, opts.DryRun)
	log.Printf("narration text: %s", result.Description)

	return &models.SynthesisResult{
		Description: result.Description,
		Translated:  result.Translated,
		Language:    result.Lang,
		ElapsedTime: elapsed,
		Attempts:    attempts,
		UsedRecords: usedRecords,
	}, candidates, nil
}

// directionSlots keeps, per front/left/right band, the nearest candidate
// whose tags mark it as narration-worthy, with its description prefixed by
// tag kind and band. Rear candidates are never narrated.
func (s *DescriptionSynthesizer) directionSlots(candidates []models.Candidate) (front, left, right string) {
	type slot struct {
		distance float64
		text     string
	}
	slots := map[geo.Band]slot{
		geo.BandFront: {distance: math.Inf(1)},
		geo.BandLeft:  {distance: math.Inf(1)},
		geo.BandRight: {distance: math.Inf(1)},
	}

	for _, c := range candidates {
		if !c.Record.Tags.ContainsAny(TagSign, TagPOI, TagHighPriority) {
			continue
		}

		band := geo.Classify(c.RelativeDirection, s.opts.FrontAngle)
		if band == geo.BandBack {
			continue
		}

		text := c.Record.Description
		switch {
		case c.Record.Tags.Contains(TagSign):
			text = "Additional note about a sign in this direction: " + text
		case c.Record.Tags.Contains(TagHighPriority):
			text = "[high priority] " + text
		case c.Record.Tags.Contains(TagPOI):
			text = "Additional note about a facility in this direction: " + text
		}
		text = string(band) + ": " + text

		if c.DistanceMeters < slots[band].distance {
			slots[band] = slot{distance: c.DistanceMeters, text: text}
		}
	}

	return slots[geo.BandFront].text, slots[geo.BandLeft].text, slots[geo.BandRight].text
}

// collectPayloads assembles the images for a composite call: front-facing
// candidate images up to maxCount, then the live images. liveImageOnly
// drops the persisted candidates entirely, and stop-reason requests use
// only forward-facing live frames.
func (s *DescriptionSynthesizer) collectPayloads(candidates []models.Candidate, maxCount int, opts models.SynthesisOptions) ([]agent.ImagePayload, []*models.ImageRecord) {
	var images []agent.ImagePayload
	var used []*models.ImageRecord

	if !opts.LiveImageOnly && !opts.StopReason {
		for _, c := range candidates {
			if maxCount > 0 && len(images) >= maxCount {
				break
			}
			if math.Abs(c.RelativeDirection) >= s.opts.FrontAngle {
				continue
			}
			// a describing record's image may exist while its description
			// does not; the image alone is still useful context
			if c.Record.ImageRef == "" {
				continue
			}
			images = append(images, agent.ImagePayload{
				Position: fmt.Sprintf("%s (%.2f rad)", geo.BandFront, c.RelativeDirection),
				DataURI:  c.Record.ImageRef,
			})
			used = append(used, c.Record)
		}
	}

	for _, live := range opts.LiveImages {
		if opts.StopReason && live.Position != string(geo.BandFront) {
			continue
		}
		images = append(images, agent.ImagePayload{
			Position: live.Position,
			DataURI:  live.ImageURI,
		})
	}

	return images, used
}

// callModel performs the bounded-concurrency, retried model invocation.
// The queue bound rejects callers outright instead of letting waiters pile
// up behind a slow upstream.
func (s *DescriptionSynthesizer) callModel(ctx context.Context, prompt string, images []agent.ImagePayload) (*agent.Result, int, error) {
	if !s.slots.TryAcquire(1) {
		return nil, 0, apperrors.Newf(apperrors.KindConcurrencyRejected, "description queue is full, retry later")
	}
	defer s.slots.Release(1)

	if err := s.calls.Acquire(ctx, 1); err != nil {
		return nil, 0, err
	}
	defer s.calls.Release(1)

	backoff := s.opts.BaseBackoff
	var lastErr error
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		result, err := s.Agent.QueryWithImages(ctx, prompt, images)
		if err == nil {
			return result, attempt, nil
		}
		lastErr = err
		if !apperrors.Retryable(err) {
			return nil, attempt, err
		}
		if attempt == s.opts.MaxAttempts {
			break
		}

		log.Printf("synthesizer: transient model failure (attempt %d/%d): %v", attempt, s.opts.MaxAttempts, err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, attempt, ctx.Err()
		}
		backoff *= 2
	}

	return nil, s.opts.MaxAttempts, apperrors.New(apperrors.KindPermanentFailure,
		fmt.Errorf("model call failed after %d attempts: %w", s.opts.MaxAttempts, lastErr))
}

// pastExplanations returns previously narrated text still within range of
// the query point and prunes entries the user has walked away from.
func (s *DescriptionSynthesizer) pastExplanations(p geo.Point, maxDistance float64) string {
	if !s.opts.UsePastExplanations {
		return ""
	}

	s.pastMu.Lock()
	defer s.pastMu.Unlock()

	var sb strings.Builder
	kept := s.past[:0]
	for _, past := range s.past {
		if geo.Haversine(p, past.point) < maxDistance {
			sb.WriteString(past.text)
			sb.WriteString("\n")
			kept = append(kept, past)
		}
	}
	s.past = kept
	return sb.String()
}

func (s *DescriptionSynthesizer) rememberDescription(text string, p geo.Point) {
	s.pastMu.Lock()
	defer s.pastMu.Unlock()
	s.past = append(s.past, pastDescription{text: text, point: p})
}
