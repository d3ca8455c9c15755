package telephony

import (
	"context"
	"fmt"

	"github.com/acme/softdialer/internal/domain"
)

// Status callback events requested from the provider.
const (
	StatusInitiated = "initiated"
	StatusRinging   = "ringing"
	StatusAnswered  = "answered"
	StatusCompleted = "completed"
)

// CallRequest describes a call to be placed by the provider.
type CallRequest struct {
	To                string
	From              string
	AnswerURL         string
	FallbackURL       string
	StatusCallbackURL string
	StatusEvents      []string
	MachineDetection  bool
	Record            bool
	Twiml             string
}

// ProviderError carries the provider's own description of a rejected request.
type ProviderError struct {
	Code    int
	Status  int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("telephony: provider error %d: %s", e.Code, e.Message)
}

// Provider abstracts the telephony integration.
type Provider interface {
	PlaceCall(ctx context.Context, req CallRequest) (string, error)
	ListRecordings(ctx context.Context, callID string) ([]domain.Recording, error)
	FetchRecording(ctx context.Context, recordingID string) ([]byte, error)
}
