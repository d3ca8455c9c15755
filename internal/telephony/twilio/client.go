// Package twilio implements the telephony provider over the Twilio REST API.
package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"

	"github.com/acme/softdialer/internal/config"
	"github.com/acme/softdialer/internal/domain"
	"github.com/acme/softdialer/internal/telephony"
)

const machineDetection = "DetectMessageEnd"

// Client places calls and reads recordings through the Twilio REST API.
type Client struct {
	accountSID string
	authToken  string
	baseURL    string
	mediaURL   string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient builds a REST client from the telephony configuration.
func NewClient(cfg config.TelephonyConfig, httpClient *http.Client) (*Client, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, errors.New("twilio: account sid and auth token are required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}

	limit := rate.Inf
	if cfg.CallsPerSecond > 0 {
		limit = rate.Limit(cfg.CallsPerSecond)
	}
	burst := cfg.CallBurst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		baseURL:    strings.TrimRight(cfg.APIBaseURL, "/"),
		mediaURL:   strings.TrimRight(cfg.MediaBaseURL, "/"),
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, burst),
	}, nil
}

type callResource struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

type recordingResource struct {
	SID     string `json:"sid"`
	CallSID string `json:"call_sid"`
	URI     string `json:"uri"`
}

type recordingList struct {
	Recordings []recordingResource `json:"recordings"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// PlaceCall creates an outbound call and returns its SID.
func (c *Client) PlaceCall(ctx context.Context, req telephony.CallRequest) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("twilio: rate limit: %w", err)
	}

	data := url.Values{}
	data.Set("To", req.To)
	data.Set("From", req.From)
	if req.AnswerURL != "" {
		data.Set("Url", req.AnswerURL)
	}
	if req.Twiml != "" {
		data.Set("Twiml", req.Twiml)
	}
	if req.FallbackURL != "" {
		data.Set("FallbackUrl", req.FallbackURL)
	}
	if req.StatusCallbackURL != "" {
		data.Set("StatusCallback", req.StatusCallbackURL)
		data.Set("StatusCallbackMethod", http.MethodPost)
	}
	for _, event := range req.StatusEvents {
		data.Add("StatusCallbackEvent", event)
	}
	if req.MachineDetection {
		data.Set("MachineDetection", machineDetection)
	}
	if req.Record {
		data.Set("Record", "true")
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls.json", c.baseURL, c.accountSID)
	var call callResource
	if err := c.post(ctx, endpoint, data, &call); err != nil {
		return "", err
	}
	return call.SID, nil
}

// ListRecordings lists the recordings of a call with their playable URLs.
func (c *Client) ListRecordings(ctx context.Context, callID string) ([]domain.Recording, error) {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Recordings.json?CallSid=%s", c.baseURL, c.accountSID, url.QueryEscape(callID))

	var list recordingList
	if err := c.getJSON(ctx, endpoint, &list); err != nil {
		return nil, err
	}

	out := make([]domain.Recording, 0, len(list.Recordings))
	for _, rec := range list.Recordings {
		out = append(out, domain.Recording{
			ID:  rec.SID,
			URL: c.mediaURL + strings.Replace(rec.URI, ".json", ".mp3", 1),
		})
	}
	return out, nil
}

// FetchRecording downloads the WAV rendition of a recording.
func (c *Client) FetchRecording(ctx context.Context, recordingID string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Recordings/%s.json", c.baseURL, c.accountSID, url.PathEscape(recordingID))

	var rec recordingResource
	if err := c.getJSON(ctx, endpoint, &rec); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.mediaURL+strings.Replace(rec.URI, ".json", ".wav", 1), nil)
	if err != nil {
		return nil, fmt.Errorf("twilio: build media request: %w", err)
	}
	return c.do(req)
}

func (c *Client) getJSON(ctx context.Context, endpoint string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("twilio: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	body, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("twilio: decode response: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, endpoint string, data url.Values, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("twilio: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	body, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("twilio: decode response: %w", err)
	}
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("twilio: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("twilio: read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr apiError
		if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Message == "" {
			return nil, &telephony.ProviderError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		}
		return nil, &telephony.ProviderError{Code: apiErr.Code, Status: resp.StatusCode, Message: apiErr.Message}
	}
	return body, nil
}
