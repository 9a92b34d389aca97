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
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o"
	systemPrompt         = "You are a narration assistant helping a blind pedestrian understand their surroundings."
	maxCompletionTokens  = 3000
)

// DummyAPIKey selects the deterministic offline backend instead of the
// real OpenAI API, for development without billing.
const DummyAPIKey = "__DUMMY_OPENAI_API_KEY__"

// OpenAIAgent talks to the OpenAI chat-completions vision API.
type OpenAIAgent struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOpenAIAgent creates an agent for the given key and model. An empty
// model selects the default vision model.
func NewOpenAIAgent(apiKey, baseURL, model string) (*OpenAIAgent, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY must be set")
	}
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIAgent{
		apiKey:  apiKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}, nil
}

func (a *OpenAIAgent) Name() string { return "openai/" + a.model }

type openAIContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

type openAIMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	MaxTokens      int             `json:"max_tokens"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// QueryWithImages sends one vision request: the system role, one message
// per image, then the prompt. The model is asked for a JSON object with
// description/translated/lang fields.
func (a *OpenAIAgent) QueryWithImages(ctx context.Context, prompt string, images []ImagePayload) (*Result, error) {
	req := openAIRequest{
		Model:     a.model,
		MaxTokens: maxCompletionTokens,
	}
	req.ResponseFormat.Type = "json_object"

	req.Messages = append(req.Messages, openAIMessage{Role: "system", Content: systemPrompt})
	for _, img := range images {
		part := openAIContentPart{Type: "image_url"}
		part.ImageURL = &struct {
			URL string `json:"url"`
		}{URL: EnsureDataURI(img.DataURI)}
		req.Messages = append(req.Messages, openAIMessage{
			Role:    "user",
			Content: []openAIContentPart{part},
		})
	}
	req.Messages = append(req.Messages, openAIMessage{
		Role: "user",
		Content: prompt + "\n\nRespond with a JSON object holding the keys" +
			" \"description\", \"translated\", and \"lang\".",
	})

	body, err := json.Marshal(req)
	if err != nil {
		return nil, apperrors.New(apperrors.KindPermanentFailure, fmt.Errorf("failed to marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.New(apperrors.KindPermanentFailure, fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		// network errors and client timeouts are worth another attempt
		return nil, apperrors.New(apperrors.KindTransientExternal, fmt.Errorf("openai request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.New(apperrors.KindTransientExternal, fmt.Errorf("failed to read openai response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTPStatus("openai", resp.StatusCode, respBody)
	}

	var parsed openAIResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, apperrors.New(apperrors.KindPermanentFailure, fmt.Errorf("failed to parse openai response: %w", err))
	}
	if parsed.Error != nil {
		return nil, apperrors.Newf(apperrors.KindPermanentFailure, "openai error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, apperrors.Newf(apperrors.KindPermanentFailure, "openai returned no choices")
	}

	return parseResultContent(parsed.Choices[0].Message.Content), nil
}

// parseResultContent decodes the structured JSON reply, falling back to
// treating the whole content as the description when the model ignored the
// format instruction.
func parseResultContent(content string) *Result {
	var result Result
	if err := json.Unmarshal([]byte(content), &result); err == nil && result.Description != "" {
		return &result
	}
	return &Result{Description: strings.TrimSpace(content)}
}

// classifyHTTPStatus maps an upstream status code onto the retry taxonomy:
// rate limits, timeouts, and server errors are transient, everything else
// is permanent.
func classifyHTTPStatus(backend string, status int, body []byte) error {
	detail := strings.TrimSpace(string(body))
	if len(detail) > 300 {
		detail = detail[:300]
	}
	err := fmt.Errorf("%s API error (status %d): %s", backend, status, detail)
	if status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500 {
		return apperrors.New(apperrors.KindTransientExternal, err)
	}
	return apperrors.New(apperrors.KindPermanentFailure, err)
}
