// Package speech turns call recordings into text.
package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/acme/softdialer/internal/config"
)

// NoSpeech is returned when the recognizer produced no transcript.
const NoSpeech = "Could not understand audio"

// AudioFetcher downloads recording audio by id.
type AudioFetcher interface {
	FetchRecording(ctx context.Context, recordingID string) ([]byte, error)
}

// Transcriber converts a recording into text.
type Transcriber interface {
	Transcribe(ctx context.Context, recordingID string) (string, error)
}

// GoogleTranscriber recognizes speech through the Google Speech-to-Text REST API.
type GoogleTranscriber struct {
	endpoint   string
	apiKey     string
	language   string
	sampleRate int
	audio      AudioFetcher
	httpClient *http.Client
}

// NewGoogleTranscriber builds a transcriber that reads audio from fetcher.
func NewGoogleTranscriber(cfg config.SpeechConfig, fetcher AudioFetcher, httpClient *http.Client) *GoogleTranscriber {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &GoogleTranscriber{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		language:   cfg.LanguageCode,
		sampleRate: cfg.SampleRateHz,
		audio:      fetcher,
		httpClient: httpClient,
	}
}

type recognitionConfig struct {
	Encoding        string `json:"encoding"`
	SampleRateHertz int    `json:"sampleRateHertz"`
	LanguageCode    string `json:"languageCode"`
}

type recognitionAudio struct {
	Content string `json:"content"`
}

type recognizeRequest struct {
	Config recognitionConfig `json:"config"`
	Audio  recognitionAudio  `json:"audio"`
}

type recognizeResponse struct {
	Results []struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"results"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Transcribe downloads the recording and returns its best transcript.
func (g *GoogleTranscriber) Transcribe(ctx context.Context, recordingID string) (string, error) {
	audio, err := g.audio.FetchRecording(ctx, recordingID)
	if err != nil {
		return "", fmt.Errorf("speech: fetch recording %s: %w", recordingID, err)
	}
	if len(audio) == 0 {
		return NoSpeech, nil
	}

	payload, err := json.Marshal(recognizeRequest{
		Config: recognitionConfig{
			Encoding:        "LINEAR16",
			SampleRateHertz: g.sampleRate,
			LanguageCode:    g.language,
		},
		Audio: recognitionAudio{Content: base64.StdEncoding.EncodeToString(audio)},
	})
	if err != nil {
		return "", fmt.Errorf("speech: marshal request: %w", err)
	}

	endpoint := g.endpoint
	if g.apiKey != "" {
		endpoint += "?key=" + url.QueryEscape(g.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("speech: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("speech: recognize: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("speech: read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			return "", fmt.Errorf("speech: recognize: %s", apiErr.Error.Message)
		}
		return "", fmt.Errorf("speech: recognize: status %d", resp.StatusCode)
	}

	var out recognizeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("speech: decode response: %w", err)
	}

	var parts []string
	for _, result := range out.Results {
		if len(result.Alternatives) == 0 {
			continue
		}
		if text := strings.TrimSpace(result.Alternatives[0].Transcript); text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return NoSpeech, nil
	}
	return strings.Join(parts, " "), nil
}
