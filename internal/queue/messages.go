package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/acme/softdialer/internal/domain"
)

// CallEventMessage is the wire form of a call state change.
type CallEventMessage struct {
	EventID        uuid.UUID `json:"event_id"`
	ProviderCallID string    `json:"provider_call_id"`
	Event          string    `json:"event"`
	State          string    `json:"state"`
	Terminal       bool      `json:"terminal"`
	Conference     string    `json:"conference"`
	AgentID        string    `json:"agent_id,omitempty"`
	Direction      string    `json:"direction"`
	Leg            string    `json:"leg"`
	AnsweredBy     string    `json:"answered_by,omitempty"`
	To             string    `json:"to,omitempty"`
	From           string    `json:"from,omitempty"`
	DurationSec    int       `json:"duration_sec,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// NewCallEventMessage converts a domain event into its wire form.
func NewCallEventMessage(ev domain.CallEventRecord) CallEventMessage {
	return CallEventMessage{
		EventID:        ev.EventID,
		ProviderCallID: ev.ProviderCallID,
		Event:          string(ev.Event),
		State:          string(ev.State),
		Terminal:       ev.State.Terminal(),
		Conference:     ev.Conference,
		AgentID:        ev.AgentID,
		Direction:      string(ev.Direction),
		Leg:            string(ev.Leg),
		AnsweredBy:     string(ev.AnsweredBy),
		To:             ev.To,
		From:           ev.From,
		DurationSec:    ev.Duration,
		OccurredAt:     ev.OccurredAt,
	}
}

// Record converts the message back into a domain event.
func (m CallEventMessage) Record() domain.CallEventRecord {
	return domain.CallEventRecord{
		ProviderCallID: m.ProviderCallID,
		EventID:        m.EventID,
		Event:          domain.CallEvent(m.Event),
		State:          domain.CallState(m.State),
		Conference:     m.Conference,
		AgentID:        m.AgentID,
		Direction:      domain.CallDirection(m.Direction),
		Leg:            domain.CallLeg(m.Leg),
		AnsweredBy:     domain.AMDResult(m.AnsweredBy),
		To:             m.To,
		From:           m.From,
		Duration:       m.DurationSec,
		OccurredAt:     m.OccurredAt,
	}
}
