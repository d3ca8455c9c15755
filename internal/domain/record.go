package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallRecord is the persisted summary of a phone call.
type CallRecord struct {
	ID              uuid.UUID
	UserID          *int64
	CallerNumber    string
	Status          string
	Name            string
	DurationSeconds *int
	ProviderCallID  *string
	AgentID         *string
	Timestamp       time.Time
	Note            *string
}

// CallEventRecord is one entry of a call's event history.
type CallEventRecord struct {
	ProviderCallID string
	EventID        uuid.UUID
	Event          CallEvent
	State          CallState
	Conference     string
	AgentID        string
	Direction      CallDirection
	Leg            CallLeg
	AnsweredBy     AMDResult
	To             string
	From           string
	Duration       int
	OccurredAt     time.Time
}

// Recording is a call recording held by the telephony provider.
type Recording struct {
	ID  string
	URL string
}

// Transcript pairs a recording with its recognized text.
type Transcript struct {
	RecordingID string
	URL         string
	Text        string
}
