package call

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/acme/softdialer/internal/domain"
	apperrors "github.com/acme/softdialer/pkg/errors"
)

type memRecords struct {
	records []domain.CallRecord
}

func (m *memRecords) Create(_ context.Context, r *domain.CallRecord) error {
	m.records = append(m.records, *r)
	return nil
}

func (m *memRecords) UpsertByProviderCall(_ context.Context, r *domain.CallRecord) error {
	m.records = append(m.records, *r)
	return nil
}

func (m *memRecords) List(_ context.Context, limit int) ([]domain.CallRecord, error) {
	return m.records, nil
}

func (m *memRecords) AppendNote(_ context.Context, userID int64, note string) (*domain.CallRecord, error) {
	for i := len(m.records) - 1; i >= 0; i-- {
		r := &m.records[i]
		if r.UserID == nil || *r.UserID != userID {
			continue
		}
		merged := note
		if r.Note != nil {
			merged = *r.Note + "\n" + note
		}
		r.Note = &merged
		out := *r
		return &out, nil
	}
	return nil, apperrors.ErrNotFound
}

type memAgents struct {
	profiles []domain.AgentProfile
}

func (m *memAgents) List(context.Context) ([]domain.AgentProfile, error) {
	return m.profiles, nil
}

func (m *memAgents) Upsert(_ context.Context, p *domain.AgentProfile) error {
	m.profiles = append(m.profiles, *p)
	return nil
}

type memEvents struct{}

func (memEvents) Append(context.Context, domain.CallEventRecord) error { return nil }

func (memEvents) ListByCall(_ context.Context, sid string, _ int, _ []byte) ([]domain.CallEventRecord, []byte, error) {
	return []domain.CallEventRecord{{ProviderCallID: sid}}, []byte{1, 2}, nil
}

type memDirectory struct {
	agents []domain.Agent
}

func (m *memDirectory) RegisterAgent(id, identity string) (domain.Agent, error) {
	if identity == "" {
		identity = id
	}
	a := domain.Agent{ID: id, Identity: identity, Status: domain.AgentStatusAvailable}
	m.agents = append(m.agents, a)
	return a, nil
}

func (m *memDirectory) Agents() []domain.Agent { return m.agents }

func newTestService() (*Service, *memRecords, *memAgents, *memDirectory) {
	records := &memRecords{}
	agents := &memAgents{}
	dir := &memDirectory{}
	return NewService(records, agents, memEvents{}, dir), records, agents, dir
}

func TestSaveRecordValidation(t *testing.T) {
	svc, _, _, _ := newTestService()
	if _, err := svc.SaveRecord(context.Background(), SaveRecordInput{CallerNumber: "+1"}); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	neg := -1
	if _, err := svc.SaveRecord(context.Background(), SaveRecordInput{CallerNumber: "+1", Status: "completed", Duration: &neg}); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error for negative duration, got %v", err)
	}
}

func TestAddNoteAppends(t *testing.T) {
	svc, _, _, _ := newTestService()
	user := int64(7)
	if _, err := svc.SaveRecord(context.Background(), SaveRecordInput{UserID: &user, CallerNumber: "+1", Status: "completed", Note: "first"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	rec, err := svc.AddNote(context.Background(), 7, "second")
	if err != nil {
		t.Fatalf("add note: %v", err)
	}
	if rec.Note == nil || *rec.Note != "first\nsecond" {
		t.Fatalf("unexpected note %v", rec.Note)
	}

	if _, err := svc.AddNote(context.Background(), 99, "x"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.AddNote(context.Background(), 7, " "); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestListAgentsMergesLiveStatus(t *testing.T) {
	svc, _, agents, dir := newTestService()
	agents.profiles = []domain.AgentProfile{
		{ID: 1, AgentID: "AG001", Name: "Alice"},
		{ID: 2, AgentID: "AG002", Name: "Bob"},
	}
	dir.agents = []domain.Agent{
		{ID: "AG002", Identity: "bob", Status: domain.AgentStatusBusy, Conference: "c1"},
		{ID: "adhoc", Identity: "adhoc", Status: domain.AgentStatusAvailable},
	}

	views, err := svc.ListAgents(context.Background())
	if err != nil {
		t.Fatalf("list agents: %v", err)
	}
	if len(views) != 3 {
		t.Fatalf("expected 3 views, got %d", len(views))
	}
	if views[0].Status != StatusOffline || views[1].Status != "busy" || views[1].Conference != "c1" {
		t.Fatalf("unexpected merged statuses %+v", views)
	}
	if views[2].AgentID != "adhoc" || views[2].Status != "available" {
		t.Fatalf("runtime agent missing: %+v", views[2])
	}
}

func TestLoadRosterUsesSoftphoneIdentity(t *testing.T) {
	svc, _, agents, dir := newTestService()
	agents.profiles = []domain.AgentProfile{
		{AgentID: "AG001", SoftphoneIdentity: "alice_web"},
		{AgentID: "AG002"},
	}

	n, err := svc.LoadRoster(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("load roster: n=%d err=%v", n, err)
	}
	if dir.agents[0].Identity != "alice_web" || dir.agents[1].Identity != "AG002" {
		t.Fatalf("unexpected identities %+v", dir.agents)
	}
}

func TestRegisterAgentPersistsNamedAgents(t *testing.T) {
	svc, _, agents, _ := newTestService()
	if _, err := svc.RegisterAgent(context.Background(), RegisterAgentInput{AgentID: "tmp"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(agents.profiles) != 0 {
		t.Fatalf("unnamed agent should not be persisted")
	}
	if _, err := svc.RegisterAgent(context.Background(), RegisterAgentInput{AgentID: "AG010", Name: "Julia"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(agents.profiles) != 1 || agents.profiles[0].AgentID != "AG010" {
		t.Fatalf("named agent not persisted: %+v", agents.profiles)
	}
	if _, err := svc.RegisterAgent(context.Background(), RegisterAgentInput{}); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPagingStateRoundTrip(t *testing.T) {
	svc, _, _, _ := newTestService()
	res, err := svc.ListEvents(context.Background(), "CA1", 10, nil)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	token := EncodePagingState(res.PagingState)
	if token == "" || strings.ContainsAny(token, "+/=") {
		t.Fatalf("token must be url-safe, got %q", token)
	}
	state, err := DecodePagingState(token)
	if err != nil || len(state) != 2 {
		t.Fatalf("decode: %v %v", state, err)
	}
	if _, err := DecodePagingState("%%%"); err == nil {
		t.Fatalf("expected decode error")
	}
}
