package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/acme/softdialer/internal/domain"
)

const createCallEvents = `CREATE TABLE IF NOT EXISTS call_events (
	provider_call_id text,
	occurred_at timestamp,
	event_id uuid,
	event text,
	state text,
	conference text,
	agent_id text,
	direction text,
	leg text,
	answered_by text,
	to_number text,
	from_number text,
	duration_seconds int,
	PRIMARY KEY ((provider_call_id), occurred_at, event_id)
) WITH CLUSTERING ORDER BY (occurred_at ASC, event_id ASC)`

// CallEventStore persists call events in Scylla, one partition per provider call.
type CallEventStore struct {
	session *gocql.Session
}

// NewCallEventStore creates a new event store.
func NewCallEventStore(session *gocql.Session) *CallEventStore {
	return &CallEventStore{session: session}
}

// InitSchema creates the call_events table when it does not exist.
func (s *CallEventStore) InitSchema(ctx context.Context) error {
	if err := s.session.Query(createCallEvents).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("call event store: create table: %w", err)
	}
	return nil
}

// Append inserts an event. Re-inserting the same event id is idempotent.
func (s *CallEventStore) Append(ctx context.Context, ev domain.CallEventRecord) error {
	if ev.EventID == uuid.Nil {
		ev.EventID = uuid.New()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	if err := s.session.Query(`INSERT INTO call_events (provider_call_id, occurred_at, event_id, event, state, conference, agent_id, direction, leg, answered_by, to_number, from_number, duration_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ProviderCallID, ev.OccurredAt, gocql.UUID(ev.EventID), string(ev.Event), string(ev.State),
		ev.Conference, ev.AgentID, string(ev.Direction), string(ev.Leg), string(ev.AnsweredBy),
		ev.To, ev.From, ev.Duration,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("call event store: append: %w", err)
	}
	return nil
}

// ListByCall lists a call's events oldest first with pagination.
func (s *CallEventStore) ListByCall(ctx context.Context, providerCallID string, limit int, pagingState []byte) ([]domain.CallEventRecord, []byte, error) {
	if limit <= 0 {
		limit = 100
	}

	query := s.session.Query(`SELECT occurred_at, event_id, event, state, conference, agent_id, direction, leg, answered_by, to_number, from_number, duration_seconds
		FROM call_events WHERE provider_call_id = ?`, providerCallID).WithContext(ctx)
	query = query.PageSize(limit)
	if len(pagingState) > 0 {
		query = query.PageState(pagingState)
	}

	iter := query.Iter()
	events := make([]domain.CallEventRecord, 0, limit)

	var (
		occurredAt time.Time
		eventID    gocql.UUID
		event      string
		state      string
		conference string
		agentID    string
		direction  string
		leg        string
		answeredBy string
		to         string
		from       string
		duration   int
	)

	for iter.Scan(&occurredAt, &eventID, &event, &state, &conference, &agentID, &direction, &leg, &answeredBy, &to, &from, &duration) {
		events = append(events, domain.CallEventRecord{
			ProviderCallID: providerCallID,
			EventID:        uuid.UUID(eventID),
			Event:          domain.CallEvent(event),
			State:          domain.CallState(state),
			Conference:     conference,
			AgentID:        agentID,
			Direction:      domain.CallDirection(direction),
			Leg:            domain.CallLeg(leg),
			AnsweredBy:     domain.AMDResult(answeredBy),
			To:             to,
			From:           from,
			Duration:       duration,
			OccurredAt:     occurredAt,
		})
	}

	nextState := iter.PageState()
	if err := iter.Close(); err != nil {
		return nil, nil, fmt.Errorf("call event store: iter close: %w", err)
	}

	return events, nextState, nil
}
