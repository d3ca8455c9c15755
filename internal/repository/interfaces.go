package repository

import (
	"context"

	"github.com/acme/softdialer/internal/domain"
	apperrors "github.com/acme/softdialer/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a unique constraint violation.
	ErrConflict = apperrors.ErrConflict
)

// AgentRepository manages the persisted agent roster.
type AgentRepository interface {
	List(ctx context.Context) ([]domain.AgentProfile, error)
	Upsert(ctx context.Context, profile *domain.AgentProfile) error
}

// CallRecordRepository persists call summaries and notes.
type CallRecordRepository interface {
	Create(ctx context.Context, record *domain.CallRecord) error
	UpsertByProviderCall(ctx context.Context, record *domain.CallRecord) error
	List(ctx context.Context, limit int) ([]domain.CallRecord, error)
	AppendNote(ctx context.Context, userID int64, note string) (*domain.CallRecord, error)
}

// CallEventStore keeps the per-call event history.
type CallEventStore interface {
	Append(ctx context.Context, event domain.CallEventRecord) error
	ListByCall(ctx context.Context, providerCallID string, limit int, pagingState []byte) ([]domain.CallEventRecord, []byte, error)
}
