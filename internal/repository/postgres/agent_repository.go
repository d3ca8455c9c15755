package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/acme/softdialer/internal/domain"
)

// AgentRepository implements repository.AgentRepository using PostgreSQL.
type AgentRepository struct {
	db *sqlx.DB
}

// NewAgentRepository constructs the repository.
func NewAgentRepository(db *sqlx.DB) *AgentRepository {
	return &AgentRepository{db: db}
}

// List returns the roster in insertion order.
func (r *AgentRepository) List(ctx context.Context) ([]domain.AgentProfile, error) {
	var agents []domain.AgentProfile
	if err := r.db.SelectContext(ctx, &agents, `SELECT id, agent_id, name, phone_number, responsibility, softphone_identity
		FROM agents
		ORDER BY id ASC`); err != nil {
		return nil, fmt.Errorf("agent repo: list: %w", err)
	}
	return agents, nil
}

// Upsert inserts the agent or refreshes its profile by agent_id.
func (r *AgentRepository) Upsert(ctx context.Context, profile *domain.AgentProfile) error {
	q := `INSERT INTO agents (agent_id, name, phone_number, responsibility, softphone_identity)
		VALUES (:agent_id, :name, :phone_number, :responsibility, :softphone_identity)
		ON CONFLICT (agent_id) DO UPDATE SET
			name = EXCLUDED.name,
			phone_number = EXCLUDED.phone_number,
			responsibility = EXCLUDED.responsibility,
			softphone_identity = EXCLUDED.softphone_identity
		RETURNING id`

	rows, err := r.db.NamedQueryContext(ctx, q, profile)
	if err != nil {
		return fmt.Errorf("agent repo: upsert: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&profile.ID); err != nil {
			return fmt.Errorf("agent repo: scan id: %w", err)
		}
	}
	return rows.Err()
}
