package call

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/acme/softdialer/internal/domain"
	"github.com/acme/softdialer/internal/repository"
	apperrors "github.com/acme/softdialer/pkg/errors"
)

// AgentDirectory is the live agent registry as seen by the service.
type AgentDirectory interface {
	RegisterAgent(agentID, identity string) (domain.Agent, error)
	Agents() []domain.Agent
}

// Service manages call records, notes, event history and the agent roster.
type Service struct {
	records   repository.CallRecordRepository
	agents    repository.AgentRepository
	events    repository.CallEventStore
	directory AgentDirectory
}

// NewService builds the call management service.
func NewService(
	records repository.CallRecordRepository,
	agents repository.AgentRepository,
	events repository.CallEventStore,
	directory AgentDirectory,
) *Service {
	return &Service{
		records:   records,
		agents:    agents,
		events:    events,
		directory: directory,
	}
}

// SaveRecordInput captures a call record submitted by the agent UI.
type SaveRecordInput struct {
	UserID         *int64
	CallerNumber   string
	Status         string
	Name           string
	Duration       *int
	ProviderCallID string
	AgentID        string
	Note           string
}

// SaveRecord validates and persists a call record.
func (s *Service) SaveRecord(ctx context.Context, input SaveRecordInput) (*domain.CallRecord, error) {
	if strings.TrimSpace(input.CallerNumber) == "" || strings.TrimSpace(input.Status) == "" {
		return nil, fmt.Errorf("%w: caller_number and status are required", apperrors.ErrValidation)
	}
	if input.Duration != nil && *input.Duration < 0 {
		return nil, fmt.Errorf("%w: duration must not be negative", apperrors.ErrValidation)
	}

	record := &domain.CallRecord{
		UserID:          input.UserID,
		CallerNumber:    input.CallerNumber,
		Status:          input.Status,
		Name:            input.Name,
		DurationSeconds: input.Duration,
		ProviderCallID:  optionalString(input.ProviderCallID),
		AgentID:         optionalString(input.AgentID),
		Note:            optionalString(input.Note),
	}
	if err := s.records.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("call service: save record: %w", err)
	}
	return record, nil
}

// ListRecords returns the newest call records.
func (s *Service) ListRecords(ctx context.Context, limit int) ([]domain.CallRecord, error) {
	records, err := s.records.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("call service: list records: %w", err)
	}
	return records, nil
}

// AddNote appends a note to the user's newest call record.
func (s *Service) AddNote(ctx context.Context, userID int64, note string) (*domain.CallRecord, error) {
	if userID <= 0 || strings.TrimSpace(note) == "" {
		return nil, fmt.Errorf("%w: user_id and note are required", apperrors.ErrValidation)
	}
	record, err := s.records.AppendNote(ctx, userID, note)
	if err != nil {
		return nil, fmt.Errorf("call service: add note: %w", err)
	}
	return record, nil
}

// AgentView is a roster entry joined with live availability.
type AgentView struct {
	domain.AgentProfile
	Status     string `json:"status"`
	Conference string `json:"conference,omitempty"`
}

// StatusOffline marks rostered agents that are not registered with the router.
const StatusOffline = "offline"

// ListAgents merges the persisted roster with live registry state. Agents
// registered at runtime but missing from the roster are appended.
func (s *Service) ListAgents(ctx context.Context) ([]AgentView, error) {
	profiles, err := s.agents.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("call service: list agents: %w", err)
	}

	live := s.directory.Agents()
	byID := make(map[string]domain.Agent, len(live))
	for _, agent := range live {
		byID[agent.ID] = agent
	}

	views := make([]AgentView, 0, len(profiles)+len(live))
	seen := make(map[string]struct{}, len(profiles))
	for _, p := range profiles {
		view := AgentView{AgentProfile: p, Status: StatusOffline}
		if agent, ok := byID[p.AgentID]; ok {
			view.Status = string(agent.Status)
			view.Conference = agent.Conference
		}
		views = append(views, view)
		seen[p.AgentID] = struct{}{}
	}
	for _, agent := range live {
		if _, ok := seen[agent.ID]; ok {
			continue
		}
		views = append(views, AgentView{
			AgentProfile: domain.AgentProfile{AgentID: agent.ID, SoftphoneIdentity: agent.Identity},
			Status:       string(agent.Status),
			Conference:   agent.Conference,
		})
	}
	return views, nil
}

// RegisterAgentInput registers an agent with the router and, when a name is
// given, stores it in the roster.
type RegisterAgentInput struct {
	AgentID        string
	Identity       string
	Name           string
	PhoneNumber    string
	Responsibility string
}

// RegisterAgent makes the agent available for routing.
func (s *Service) RegisterAgent(ctx context.Context, input RegisterAgentInput) (domain.Agent, error) {
	if strings.TrimSpace(input.AgentID) == "" {
		return domain.Agent{}, fmt.Errorf("%w: agent_id is required", apperrors.ErrValidation)
	}

	if input.Name != "" {
		profile := &domain.AgentProfile{
			AgentID:           input.AgentID,
			Name:              input.Name,
			PhoneNumber:       input.PhoneNumber,
			Responsibility:    input.Responsibility,
			SoftphoneIdentity: input.Identity,
		}
		if err := s.agents.Upsert(ctx, profile); err != nil {
			return domain.Agent{}, fmt.Errorf("call service: persist agent: %w", err)
		}
	}

	agent, err := s.directory.RegisterAgent(input.AgentID, input.Identity)
	if err != nil {
		return domain.Agent{}, fmt.Errorf("call service: register agent: %w", err)
	}
	return agent, nil
}

// LoadRoster registers every persisted agent with the router.
func (s *Service) LoadRoster(ctx context.Context) (int, error) {
	profiles, err := s.agents.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("call service: load roster: %w", err)
	}
	for _, p := range profiles {
		if _, err := s.directory.RegisterAgent(p.AgentID, p.Identity()); err != nil {
			return 0, fmt.Errorf("call service: load roster: %w", err)
		}
	}
	return len(profiles), nil
}

// ListEventsResult is a page of a call's event history.
type ListEventsResult struct {
	Events      []domain.CallEventRecord
	PagingState []byte
}

// ListEvents returns the event history of a provider call.
func (s *Service) ListEvents(ctx context.Context, providerCallID string, limit int, pagingState []byte) (*ListEventsResult, error) {
	if providerCallID == "" {
		return nil, fmt.Errorf("%w: call sid is required", apperrors.ErrValidation)
	}
	events, next, err := s.events.ListByCall(ctx, providerCallID, limit, pagingState)
	if err != nil {
		return nil, fmt.Errorf("call service: list events: %w", err)
	}
	return &ListEventsResult{Events: events, PagingState: next}, nil
}

// EncodePagingState renders a Scylla paging state as a URL-safe page token.
func EncodePagingState(state []byte) string {
	if len(state) == 0 {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(state)
}

// DecodePagingState parses a page token. An empty token starts from the
// first page.
func DecodePagingState(token string) ([]byte, error) {
	if token == "" {
		return nil, nil
	}
	state, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: page token: %v", apperrors.ErrValidation, err)
	}
	return state, nil
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
