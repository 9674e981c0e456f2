// Package huggingface generates scheme recommendations with a hosted
// text-generation model.
package huggingface

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/scanpipe/internal/core/domain"
	"github.com/kirillkom/scanpipe/internal/infrastructure/resilience"
)

const (
	DefaultBaseURL = "https://api-inference.huggingface.co"
	DefaultModel   = "mistralai/Mistral-7B-Instruct-v0.2"
)

var (
	ErrMissingToken      = errors.New("missing Hugging Face token")
	ErrNoJSON            = errors.New("model did not return JSON")
	ErrNoRecommendations = errors.New("no recommendations in JSON")

	jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)
)

type Options struct {
	BaseURL    string
	Token      string
	Model      string
	Timeout    time.Duration
	Executor   *resilience.Executor
	HTTPClient *http.Client
}

type Client struct {
	baseURL    string
	token      string
	model      string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    baseURL,
		token:      strings.TrimSpace(opts.Token),
		model:      model,
		httpClient: httpClient,
		executor:   opts.Executor,
	}
}

// GenerateRecommendations asks the model for 4 to 6 schemes matching claim.
func (c *Client) GenerateRecommendations(ctx context.Context, claim domain.Claim, ocrText string) ([]domain.SchemeRecommendation, error) {
	if c.token == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "generate recommendations", ErrMissingToken)
	}

	prompt, err := buildRecommendationPrompt(claim, ocrText)
	if err != nil {
		return nil, err
	}

	text, err := c.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return parseRecommendations(text)
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	request := generationRequest{
		Inputs: prompt,
		Parameters: generationParameters{
			MaxNewTokens:   500,
			Temperature:    0.3,
			ReturnFullText: false,
		},
	}

	var raw json.RawMessage
	call := func(callCtx context.Context) error {
		return c.postJSON(callCtx, c.modelPath(), request, &raw)
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "huggingface.generate", call, classifyHFError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return "", resilience.MarkTemporary("huggingface generate", err, classifyHFError)
	}
	return generatedText(raw)
}

func (c *Client) modelPath() string {
	segments := strings.Split(c.model, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return "/models/" + strings.Join(segments, "/")
}

type generationRequest struct {
	Inputs     string               `json:"inputs"`
	Parameters generationParameters `json:"parameters"`
}

type generationParameters struct {
	MaxNewTokens   int     `json:"max_new_tokens"`
	Temperature    float64 `json:"temperature"`
	ReturnFullText bool    `json:"return_full_text"`
}

type generation struct {
	GeneratedText string `json:"generated_text"`
}

// generatedText accepts a list of generations, a single generation or a
// bare string.
func generatedText(raw json.RawMessage) (string, error) {
	trimmed := strings.TrimSpace(string(raw))
	switch {
	case strings.HasPrefix(trimmed, "["):
		var list []generation
		if err := json.Unmarshal(raw, &list); err != nil {
			return "", fmt.Errorf("decode generation list: %w", err)
		}
		if len(list) == 0 {
			return "", nil
		}
		return list[0].GeneratedText, nil
	case strings.HasPrefix(trimmed, "{"):
		var single generation
		if err := json.Unmarshal(raw, &single); err != nil {
			return "", fmt.Errorf("decode generation: %w", err)
		}
		return single.GeneratedText, nil
	default:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("decode generation text: %w", err)
		}
		return s, nil
	}
}

type recommendationPayload struct {
	Recommendations []struct {
		ID          string     `json:"id"`
		Name        string     `json:"name"`
		Description string     `json:"description"`
		Benefits    string     `json:"benefits"`
		MatchScore  matchScore `json:"matchScore"`
		Category    string     `json:"category"`
		Icon        string     `json:"icon"`
	} `json:"recommendations"`
}

func parseRecommendations(text string) ([]domain.SchemeRecommendation, error) {
	object := jsonObjectPattern.FindString(text)
	if object == "" {
		return nil, ErrNoJSON
	}

	var payload recommendationPayload
	if err := json.Unmarshal([]byte(object), &payload); err != nil {
		return nil, fmt.Errorf("parse recommendations json: %w", err)
	}
	if len(payload.Recommendations) == 0 {
		return nil, ErrNoRecommendations
	}

	out := make([]domain.SchemeRecommendation, 0, len(payload.Recommendations))
	for _, r := range payload.Recommendations {
		out = append(out, domain.SchemeRecommendation{
			ID:          r.ID,
			Name:        r.Name,
			Description: r.Description,
			Benefits:    r.Benefits,
			MatchScore:  r.MatchScore.clamped(),
			Category:    r.Category,
			Icon:        r.Icon,
		})
	}
	return out, nil
}

// matchScore tolerates numbers, numeric strings and garbage (read as 0).
type matchScore float64

func (m *matchScore) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*m = matchScore(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			*m = matchScore(v)
			return nil
		}
	}
	*m = 0
	return nil
}

func (m matchScore) clamped() int {
	v := float64(m)
	if math.IsNaN(v) {
		return 0
	}
	return int(math.Max(0, math.Min(100, math.Round(v))))
}
