package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/miyagawa-lab/geonarrator/apperrors"
)

const (
	defaultOllamaHost = "http://localhost:11434"
	defaultVLM        = "llava"
)

// OllamaAgent drives a local Ollama server as the description backend.
type OllamaAgent struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOllamaAgent creates an agent for the given host and vision model.
func NewOllamaAgent(host, model string) *OllamaAgent {
	if host == "" {
		host = defaultOllamaHost
	}
	if model == "" {
		model = defaultVLM
	}
	return &OllamaAgent{
		baseURL: strings.TrimSuffix(host, "/"),
		model:   model,
		httpClient: &http.Client{
			// local generation with a vision model can be slow
			Timeout: 5 * time.Minute,
		},
	}
}

func (a *OllamaAgent) Name() string { return "ollama/" + a.model }

type ollamaChatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Format   string              `json:"format,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
	Error   string            `json:"error,omitempty"`
}

// QueryWithImages sends one non-streamed chat request. Images travel as
// bare base64 in the user message, per the Ollama chat API.
func (a *OllamaAgent) QueryWithImages(ctx context.Context, prompt string, images []ImagePayload) (*Result, error) {
	encoded := make([]string, 0, len(images))
	for _, img := range images {
		encoded = append(encoded, StripDataURI(img.DataURI))
	}

	req := ollamaChatRequest{
		Model:  a.model,
		Stream: false,
		Format: "json",
		Messages: []ollamaChatMessage{
			{Role: "system", Content: systemPrompt},
			{
				Role: "user",
				Content: prompt + "\n\nRespond with a JSON object holding the keys" +
					" \"description\", \"translated\", and \"lang\".",
				Images: encoded,
			},
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, apperrors.New(apperrors.KindPermanentFailure, fmt.Errorf("failed to marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.New(apperrors.KindPermanentFailure, fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, apperrors.New(apperrors.KindTransientExternal, fmt.Errorf("ollama request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.New(apperrors.KindTransientExternal, fmt.Errorf("failed to read ollama response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTPStatus("ollama", resp.StatusCode, respBody)
	}

	var parsed ollamaChatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, apperrors.New(apperrors.KindPermanentFailure, fmt.Errorf("failed to parse ollama response: %w", err))
	}
	if parsed.Error != "" {
		return nil, apperrors.Newf(apperrors.KindPermanentFailure, "ollama error: %s", parsed.Error)
	}

	return parseResultContent(parsed.Message.Content), nil
}
