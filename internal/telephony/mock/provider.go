package mock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/acme/softdialer/internal/domain"
	"github.com/acme/softdialer/internal/telephony"
)

// Provider records placed calls and serves canned recordings.
type Provider struct {
	seq atomic.Int64

	mu         sync.Mutex
	requests   []telephony.CallRequest
	failures   map[string]error
	recordings map[string][]domain.Recording
	audio      map[string][]byte
}

// NewProvider constructs an empty mock provider.
func NewProvider() *Provider {
	return &Provider{
		failures:   make(map[string]error),
		recordings: make(map[string][]domain.Recording),
		audio:      make(map[string][]byte),
	}
}

// FailCallsTo makes every call to the destination fail with err.
func (p *Provider) FailCallsTo(to string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[to] = err
}

// AddRecording registers a recording and its audio for a call.
func (p *Provider) AddRecording(callID string, rec domain.Recording, audio []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recordings[callID] = append(p.recordings[callID], rec)
	p.audio[rec.ID] = audio
}

// Requests returns a copy of every call request received so far.
func (p *Provider) Requests() []telephony.CallRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]telephony.CallRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

// PlaceCall simulates a call placement and returns a synthetic call SID.
func (p *Provider) PlaceCall(ctx context.Context, req telephony.CallRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if err, ok := p.failures[req.To]; ok {
		return "", err
	}
	return fmt.Sprintf("CA%032d", p.seq.Add(1)), nil
}

// ListRecordings returns the recordings registered for the call.
func (p *Provider) ListRecordings(ctx context.Context, callID string) ([]domain.Recording, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Recording, len(p.recordings[callID]))
	copy(out, p.recordings[callID])
	return out, nil
}

// FetchRecording returns the audio registered for the recording.
func (p *Provider) FetchRecording(ctx context.Context, recordingID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	audio, ok := p.audio[recordingID]
	if !ok {
		return nil, &telephony.ProviderError{Code: 20404, Status: 404, Message: "recording not found"}
	}
	return audio, nil
}
