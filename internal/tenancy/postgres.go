package tenancy

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/relay-protocol/relay/internal/model"
)

// PostgresStore is the durable Store implementation.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const uniqueViolation = "23505"

func mapPgErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicateID, pgErr.ConstraintName)
	}
	return err
}

// CreateOrganization implements Store.
func (s *PostgresStore) CreateOrganization(ctx context.Context, org *model.Organization, admin *model.Agent) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO organizations (org_id, org_name, contact_email, created_at, is_active)
		 VALUES ($1, $2, $3, $4, $5)`,
		org.OrgID, org.OrgName, org.ContactEmail, org.CreatedAt, org.Active,
	); err != nil {
		return fmt.Errorf("insert organization: %w", mapPgErr(err))
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO agents (agent_id, org_id, agent_name, description, api_key_hash, created_at, is_active)
		 VALUES ($1, $2, $3, $4, NULL, $5, $6)`,
		admin.AgentID, admin.OrgID, admin.AgentName, admin.Description, admin.CreatedAt, admin.Active,
	); err != nil {
		return fmt.Errorf("insert admin agent: %w", mapPgErr(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit org registration: %w", err)
	}
	return nil
}

// GetOrganization implements Store.
func (s *PostgresStore) GetOrganization(ctx context.Context, orgID string) (*model.Organization, error) {
	var org model.Organization
	err := s.pool.QueryRow(ctx,
		`SELECT org_id, org_name, contact_email, created_at, is_active
		 FROM organizations WHERE org_id = $1`, orgID,
	).Scan(&org.OrgID, &org.OrgName, &org.ContactEmail, &org.CreatedAt, &org.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get organization %s: %w", orgID, err)
	}
	return &org, nil
}

// CreateAgent implements Store.
func (s *PostgresStore) CreateAgent(ctx context.Context, agent *model.Agent) error {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO agents (agent_id, org_id, agent_name, description, api_key_hash, created_at, is_active)
		 VALUES ($1, $2, $3, $4, NULL, $5, $6)`,
		agent.AgentID, agent.OrgID, agent.AgentName, agent.Description, agent.CreatedAt, agent.Active,
	); err != nil {
		return fmt.Errorf("insert agent: %w", mapPgErr(err))
	}
	return nil
}

// GetAgent implements Store.
func (s *PostgresStore) GetAgent(ctx context.Context, agentID string) (*model.Agent, error) {
	var (
		agent model.Agent
		desc  *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT agent_id, org_id, agent_name, description, created_at, is_active
		 FROM agents WHERE agent_id = $1`, agentID,
	).Scan(&agent.AgentID, &agent.OrgID, &agent.AgentName, &desc, &agent.CreatedAt, &agent.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent %s: %w", agentID, err)
	}
	if desc != nil {
		agent.Description = *desc
	}
	return &agent, nil
}

// ListAgents implements Store.
func (s *PostgresStore) ListAgents(ctx context.Context, orgID string) ([]*model.Agent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT agent_id, org_id, agent_name, description, created_at, is_active
		 FROM agents WHERE org_id = $1
		 ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []*model.Agent
	for rows.Next() {
		var (
			agent model.Agent
			desc  *string
		)
		if err := rows.Scan(&agent.AgentID, &agent.OrgID, &agent.AgentName, &desc, &agent.CreatedAt, &agent.Active); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		if desc != nil {
			agent.Description = *desc
		}
		agents = append(agents, &agent)
	}
	return agents, rows.Err()
}

// CountAgents implements Store.
func (s *PostgresStore) CountAgents(ctx context.Context, orgID string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM agents WHERE org_id = $1`, orgID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count agents: %w", err)
	}
	return n, nil
}
