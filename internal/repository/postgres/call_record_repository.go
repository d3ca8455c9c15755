package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/acme/softdialer/internal/domain"
	"github.com/acme/softdialer/internal/repository"
)

const callRecordColumns = `id, user_id, caller_number, status, name, duration_seconds, provider_call_sid, agent_id, call_timestamp, note`

// CallRecordRepository implements repository.CallRecordRepository using PostgreSQL.
type CallRecordRepository struct {
	db *sqlx.DB
}

// NewCallRecordRepository constructs the repository.
func NewCallRecordRepository(db *sqlx.DB) *CallRecordRepository {
	return &CallRecordRepository{db: db}
}

// Create inserts a call record.
func (r *CallRecordRepository) Create(ctx context.Context, record *domain.CallRecord) error {
	prepareRecord(record)
	q := `INSERT INTO phone_calls (` + callRecordColumns + `)
		VALUES (:id, :user_id, :caller_number, :status, :name, :duration_seconds, :provider_call_sid, :agent_id, :call_timestamp, :note)`

	if _, err := r.db.NamedExecContext(ctx, q, recordParams(record)); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("call record repo: insert: %w", repository.ErrConflict)
		}
		return fmt.Errorf("call record repo: insert: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// UpsertByProviderCall inserts the record or refreshes the row of the same provider call.
func (r *CallRecordRepository) UpsertByProviderCall(ctx context.Context, record *domain.CallRecord) error {
	if record.ProviderCallID == nil || *record.ProviderCallID == "" {
		return fmt.Errorf("call record repo: upsert: provider call id is required")
	}
	prepareRecord(record)
	q := `INSERT INTO phone_calls (` + callRecordColumns + `)
		VALUES (:id, :user_id, :caller_number, :status, :name, :duration_seconds, :provider_call_sid, :agent_id, :call_timestamp, :note)
		ON CONFLICT (provider_call_sid) DO UPDATE SET
			status = EXCLUDED.status,
			duration_seconds = COALESCE(EXCLUDED.duration_seconds, phone_calls.duration_seconds),
			agent_id = COALESCE(EXCLUDED.agent_id, phone_calls.agent_id)`

	if _, err := r.db.NamedExecContext(ctx, q, recordParams(record)); err != nil {
		return fmt.Errorf("call record repo: upsert: %w", err)
	}
	return nil
}

// List returns records newest first.
func (r *CallRecordRepository) List(ctx context.Context, limit int) ([]domain.CallRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows []callRecordRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT `+callRecordColumns+`
		FROM phone_calls
		ORDER BY call_timestamp DESC
		LIMIT $1`, limit); err != nil {
		return nil, fmt.Errorf("call record repo: list: %w", err)
	}

	out := make([]domain.CallRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// AppendNote appends a line to the note of the user's newest call record.
func (r *CallRecordRepository) AppendNote(ctx context.Context, userID int64, note string) (*domain.CallRecord, error) {
	var updated domain.CallRecord
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var row callRecordRow
		err := tx.QueryRowxContext(ctx, `SELECT `+callRecordColumns+`
			FROM phone_calls
			WHERE user_id = $1
			ORDER BY call_timestamp DESC
			LIMIT 1
			FOR UPDATE`, userID).StructScan(&row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("call record repo: no record for user %d: %w", userID, repository.ErrNotFound)
			}
			return fmt.Errorf("call record repo: select for note: %w", err)
		}

		merged := note
		if row.Note.Valid && row.Note.String != "" {
			merged = row.Note.String + "\n" + note
		}
		if _, err := tx.ExecContext(ctx, `UPDATE phone_calls SET note = $1 WHERE id = $2`, merged, row.ID); err != nil {
			return fmt.Errorf("call record repo: update note: %w", err)
		}

		row.Note = sql.NullString{String: merged, Valid: true}
		updated = row.toDomain()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func prepareRecord(record *domain.CallRecord) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
}

func recordParams(record *domain.CallRecord) map[string]any {
	return map[string]any{
		"id":                record.ID,
		"user_id":           record.UserID,
		"caller_number":     record.CallerNumber,
		"status":            record.Status,
		"name":              record.Name,
		"duration_seconds":  record.DurationSeconds,
		"provider_call_sid": record.ProviderCallID,
		"agent_id":          record.AgentID,
		"call_timestamp":    record.Timestamp,
		"note":              record.Note,
	}
}

type callRecordRow struct {
	ID              uuid.UUID      `db:"id"`
	UserID          sql.NullInt64  `db:"user_id"`
	CallerNumber    string         `db:"caller_number"`
	Status          sql.NullString `db:"status"`
	Name            string         `db:"name"`
	DurationSeconds sql.NullInt32  `db:"duration_seconds"`
	ProviderCallID  sql.NullString `db:"provider_call_sid"`
	AgentID         sql.NullString `db:"agent_id"`
	Timestamp       time.Time      `db:"call_timestamp"`
	Note            sql.NullString `db:"note"`
}

func (r callRecordRow) toDomain() domain.CallRecord {
	record := domain.CallRecord{
		ID:           r.ID,
		CallerNumber: r.CallerNumber,
		Status:       r.Status.String,
		Name:         r.Name,
		Timestamp:    r.Timestamp,
	}
	if r.UserID.Valid {
		v := r.UserID.Int64
		record.UserID = &v
	}
	if r.DurationSeconds.Valid {
		v := int(r.DurationSeconds.Int32)
		record.DurationSeconds = &v
	}
	if r.ProviderCallID.Valid {
		v := r.ProviderCallID.String
		record.ProviderCallID = &v
	}
	if r.AgentID.Valid {
		v := r.AgentID.String
		record.AgentID = &v
	}
	if r.Note.Valid {
		v := r.Note.String
		record.Note = &v
	}
	return record
}
