package dialer

import (
	"fmt"
	"sync"
	"time"

	"github.com/acme/softdialer/internal/domain"
	apperrors "github.com/acme/softdialer/pkg/errors"
)

// CallMetadata links a provider call to its conference and owning agent.
type CallMetadata struct {
	Conference string
	AgentID    string
}

// Transition is the outcome of applying an event to a tracked call.
type Transition struct {
	From    domain.CallState
	To      domain.CallState
	Attempt domain.CallAttempt
}

// Changed reports whether the state moved.
func (t Transition) Changed() bool {
	return t.From != t.To
}

// EnteredTerminal reports whether this transition ended the call.
func (t Transition) EnteredTerminal() bool {
	return !t.From.Terminal() && t.To.Terminal()
}

// CallStore keeps in-memory call attempts keyed by provider call id.
type CallStore struct {
	mu        sync.Mutex
	attempts  map[string]*domain.CallAttempt
	retention time.Duration
	maxAge    time.Duration
	now       func() time.Time
}

// NewCallStore builds a store. Terminal attempts live for retention, any
// other attempt is dropped after maxAge without updates.
func NewCallStore(retention, maxAge time.Duration) *CallStore {
	return &CallStore{
		attempts:  make(map[string]*domain.CallAttempt),
		retention: retention,
		maxAge:    maxAge,
		now:       time.Now,
	}
}

// Put records the conference and agent of a call, overwriting any previous mapping.
func (s *CallStore) Put(providerCallID, conference, agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if attempt, ok := s.attempts[providerCallID]; ok {
		attempt.Conference = conference
		attempt.AgentID = agentID
		attempt.UpdatedAt = now
		return
	}
	s.attempts[providerCallID] = &domain.CallAttempt{
		ProviderCallID: providerCallID,
		Conference:     conference,
		AgentID:        agentID,
		AMD:            domain.AMDResultNone,
		State:          domain.CallStateCreated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Get returns the metadata of a tracked call.
func (s *CallStore) Get(providerCallID string) (CallMetadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempt, ok := s.attempts[providerCallID]
	if !ok {
		return CallMetadata{}, false
	}
	return CallMetadata{Conference: attempt.Conference, AgentID: attempt.AgentID}, true
}

// Attempt returns a copy of the tracked call attempt.
func (s *CallStore) Attempt(providerCallID string) (domain.CallAttempt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempt, ok := s.attempts[providerCallID]
	if !ok {
		return domain.CallAttempt{}, false
	}
	return *attempt, true
}

// Track stores a full call attempt, replacing any previous entry.
func (s *CallStore) Track(attempt domain.CallAttempt) {
	now := s.now()
	if attempt.State == "" {
		attempt.State = domain.CallStateCreated
	}
	if attempt.AMD == "" {
		attempt.AMD = domain.AMDResultNone
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = now
	}
	attempt.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[attempt.ProviderCallID] = &attempt
}

// Apply runs the state machine for the call. Illegal events leave the attempt untouched.
func (s *CallStore) Apply(providerCallID string, event domain.CallEvent, at time.Time) (Transition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempt, ok := s.attempts[providerCallID]
	if !ok {
		return Transition{}, fmt.Errorf("callstore: apply %s to %s: %w", event, providerCallID, apperrors.ErrNotFound)
	}

	from := attempt.State
	next, err := from.Next(event)
	if err != nil {
		return Transition{From: from, To: from, Attempt: *attempt}, fmt.Errorf("callstore: apply %s to %s: %w", event, providerCallID, err)
	}

	switch event {
	case domain.CallEventHuman:
		attempt.AMD = domain.AMDResultHuman
	case domain.CallEventMachine:
		attempt.AMD = domain.AMDResultMachine
	case domain.CallEventUndetermined:
		attempt.AMD = domain.AMDResultUnknown
	}
	attempt.State = next
	attempt.UpdatedAt = at
	if next.Terminal() && attempt.EndedAt == nil {
		ended := at
		attempt.EndedAt = &ended
	}
	return Transition{From: from, To: next, Attempt: *attempt}, nil
}

// Sweep evicts expired attempts and returns how many were removed.
func (s *CallStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, attempt := range s.attempts {
		expired := false
		switch {
		case attempt.EndedAt != nil:
			expired = s.retention >= 0 && now.Sub(*attempt.EndedAt) > s.retention
		case s.maxAge > 0:
			expired = now.Sub(attempt.UpdatedAt) > s.maxAge
		}
		if expired {
			delete(s.attempts, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked attempts.
func (s *CallStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts)
}
