// Package dialer holds the call-routing core: the agent registry, the call
// metadata store and the orchestrator that drives both from provider events.
package dialer

import (
	"fmt"
	"sync"

	"github.com/acme/softdialer/internal/domain"
	apperrors "github.com/acme/softdialer/pkg/errors"
)

// Registry tracks live agents and their availability. Iteration follows
// registration order.
type Registry struct {
	mu     sync.Mutex
	order  []string
	agents map[string]*domain.Agent
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]*domain.Agent)}
}

// Register inserts or replaces the agent as available. A replaced agent keeps its position.
func (r *Registry) Register(agentID, identity string) domain.Agent {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[agentID]
	if !ok {
		agent = &domain.Agent{ID: agentID}
		r.agents[agentID] = agent
		r.order = append(r.order, agentID)
	}
	agent.Identity = identity
	agent.Status = domain.AgentStatusAvailable
	agent.Conference = ""
	return *agent
}

// FindAvailable returns the first available agent.
func (r *Registry) FindAvailable() (domain.Agent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if agent := r.firstAvailable(); agent != nil {
		return *agent, true
	}
	return domain.Agent{}, false
}

// SetStatus overwrites the agent's status. Available clears the conference.
func (r *Registry) SetStatus(agentID string, status domain.AgentStatus) error {
	if !status.Valid() {
		return fmt.Errorf("registry: set status %q: %w", status, apperrors.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[agentID]
	if !ok {
		return fmt.Errorf("registry: set status %s: %w", agentID, apperrors.ErrUnknownAgent)
	}
	agent.Status = status
	if status == domain.AgentStatusAvailable {
		agent.Conference = ""
	}
	return nil
}

// GetStatus returns the agent's current status.
func (r *Registry) GetStatus(agentID string) (domain.AgentStatus, error) {
	agent, err := r.Get(agentID)
	if err != nil {
		return "", err
	}
	return agent.Status, nil
}

// Get returns a copy of the agent.
func (r *Registry) Get(agentID string) (domain.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[agentID]
	if !ok {
		return domain.Agent{}, fmt.Errorf("registry: get %s: %w", agentID, apperrors.ErrUnknownAgent)
	}
	return *agent, nil
}

// Claim atomically picks the first available agent and marks it busy on conference.
func (r *Registry) Claim(conference string) (domain.Agent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent := r.firstAvailable()
	if agent == nil {
		return domain.Agent{}, false
	}
	agent.Status = domain.AgentStatusBusy
	agent.Conference = conference
	return *agent, true
}

// Reserve marks the agent busy on conference only when it is currently
// available.
func (r *Registry) Reserve(agentID, conference string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[agentID]
	if !ok {
		return fmt.Errorf("registry: reserve %s: %w", agentID, apperrors.ErrUnknownAgent)
	}
	if agent.Status != domain.AgentStatusAvailable {
		return fmt.Errorf("registry: reserve %s: agent is %s on %q: %w", agentID, agent.Status, agent.Conference, apperrors.ErrConflict)
	}
	agent.Status = domain.AgentStatusBusy
	agent.Conference = conference
	return nil
}

// Assign marks the agent busy on conference. It refuses when the agent is
// already busy on a different conference.
func (r *Registry) Assign(agentID, conference string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[agentID]
	if !ok {
		return fmt.Errorf("registry: assign %s: %w", agentID, apperrors.ErrUnknownAgent)
	}
	if agent.Status == domain.AgentStatusBusy && agent.Conference != "" && agent.Conference != conference {
		return fmt.Errorf("registry: assign %s: busy on %q: %w", agentID, agent.Conference, apperrors.ErrConflict)
	}
	agent.Status = domain.AgentStatusBusy
	if conference != "" {
		agent.Conference = conference
	}
	return nil
}

// Release returns the agent to available when it is still assigned to
// conference. An empty conference releases unconditionally. The boolean
// reports whether the agent was released.
func (r *Registry) Release(agentID, conference string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[agentID]
	if !ok {
		return false, fmt.Errorf("registry: release %s: %w", agentID, apperrors.ErrUnknownAgent)
	}
	if conference != "" && agent.Conference != conference {
		return false, nil
	}
	agent.Status = domain.AgentStatusAvailable
	agent.Conference = ""
	return true, nil
}

// Snapshot returns every agent in registration order.
func (r *Registry) Snapshot() []domain.Agent {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Agent, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.agents[id])
	}
	return out
}

func (r *Registry) firstAvailable() *domain.Agent {
	for _, id := range r.order {
		if agent := r.agents[id]; agent.Status == domain.AgentStatusAvailable {
			return agent
		}
	}
	return nil
}
