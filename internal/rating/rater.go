// Package rating scores call transcripts with a language model.
package rating

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/acme/softdialer/internal/config"
	apperrors "github.com/acme/softdialer/pkg/errors"
)

const (
	MinRating = 1
	MaxRating = 10
)

const promptTemplate = "You are a call quality analyzer. Analyze the following customer call transcript " +
	"and return a numeric rating from 1 to 10, where 10 is excellent, 1 is terrible. " +
	"Only return the number.\n\nTranscript:\n%s"

// Rater scores a transcript. A nil rating means the model gave no usable answer.
type Rater interface {
	Rate(ctx context.Context, transcript string) (*int, error)
}

// GeminiRater calls the Gemini generateContent REST endpoint.
type GeminiRater struct {
	baseURL    string
	model      string
	apiKey     string
	httpClient *http.Client
}

// NewGeminiRater builds a rater from configuration.
func NewGeminiRater(cfg config.RatingConfig, httpClient *http.Client) *GeminiRater {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &GeminiRater{
		baseURL:    strings.TrimRight(cfg.Endpoint, "/"),
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
	}
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// Rate asks the model for a 1..10 score of the transcript.
func (g *GeminiRater) Rate(ctx context.Context, transcript string) (*int, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, fmt.Errorf("rating: transcript: %w", apperrors.ErrMissingParameter)
	}

	payload, err := json.Marshal(generateRequest{Contents: []content{{
		Role:  "user",
		Parts: []part{{Text: fmt.Sprintf(promptTemplate, transcript)}},
	}}})
	if err != nil {
		return nil, fmt.Errorf("rating: marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, url.PathEscape(g.model))
	if g.apiKey != "" {
		endpoint += "?key=" + url.QueryEscape(g.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("rating: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rating: generate: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("rating: read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("rating: generate: status %d: %w", resp.StatusCode, apperrors.ErrUnavailable)
	}

	var out generateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("rating: decode response: %w", err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return nil, nil
	}
	return ParseRating(out.Candidates[0].Content.Parts[0].Text), nil
}

// ParseRating reads an integer score and clamps it to 1..10. Text that is
// not a number yields nil.
func ParseRating(text string) *int {
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, ".")
	if before, _, ok := strings.Cut(text, "/"); ok {
		text = strings.TrimSpace(before)
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		return nil
	}
	n = max(MinRating, min(MaxRating, n))
	return &n
}
