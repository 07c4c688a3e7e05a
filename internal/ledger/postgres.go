package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/relay-protocol/relay/internal/model"
	"go.uber.org/zap"
)

// PostgresLedger persists the audit trail to PostgreSQL. It implements the
// Ledger interface; the one-time-use transition relies on a conditional
// UPDATE so replay safety is delegated to the database.
type PostgresLedger struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresLedger creates a PostgresLedger backed by the given pool.
func NewPostgresLedger(pool *pgxpool.Pool, logger *zap.Logger) *PostgresLedger {
	return &PostgresLedger{pool: pool, logger: logger}
}

// uniqueViolation is the PostgreSQL SQLSTATE for duplicate keys.
const uniqueViolation = "23505"

func mapPgErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}

// WriteDecision implements Ledger. Manifest and seal land in one transaction;
// any failure rolls both back.
func (l *PostgresLedger) WriteDecision(ctx context.Context, m *ManifestRow, s *model.Seal) error {
	params, err := json.Marshal(m.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO manifests (
			manifest_id, created_at, agent_id, org_id, user_id,
			provider, method, parameters, reasoning, confidence_score,
			environment, manifest_json
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		m.ManifestID, m.CreatedAt, m.AgentID, m.OrgID, nullable(m.UserID),
		m.Provider, m.Method, params, m.Reasoning, m.Confidence,
		m.Environment, m.Raw,
	); err != nil {
		return fmt.Errorf("insert manifest: %w", mapPgErr(err))
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO seals (
			seal_id, manifest_id, approved, policy_version, denial_reason,
			signature, public_key, issued_at, expires_at, was_executed, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		s.SealID, s.ManifestID, s.Approved, s.PolicyVersion, nullable(s.DenialReason),
		s.Signature, s.PublicKey, s.IssuedAt, s.ExpiresAt, s.Executed, s.ExecutedAt,
	); err != nil {
		return fmt.Errorf("insert seal: %w", mapPgErr(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit decision tx: %w", err)
	}

	l.logger.Debug("decision written",
		zap.String("manifest_id", m.ManifestID.String()),
		zap.String("seal_id", s.SealID),
		zap.Bool("approved", s.Approved),
	)
	return nil
}

// WriteAuthEvent implements Ledger.
func (l *PostgresLedger) WriteAuthEvent(ctx context.Context, e *model.AuthEvent) error {
	if _, err := l.pool.Exec(ctx,
		`INSERT INTO auth_events (
			event_id, event_type, agent_id, org_id, endpoint,
			ip_address, success, failure_reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.EventID, e.EventType, nullable(e.AgentID), nullable(e.OrgID), nullable(e.Endpoint),
		nullable(e.IPAddress), e.Success, nullable(e.FailureReason), e.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert auth event: %w", mapPgErr(err))
	}
	return nil
}

// GetManifest implements Ledger.
func (l *PostgresLedger) GetManifest(ctx context.Context, id uuid.UUID) (*ManifestRow, error) {
	row := l.pool.QueryRow(ctx,
		`SELECT manifest_id, created_at, agent_id, org_id, user_id,
		        provider, method, parameters, reasoning, confidence_score,
		        environment, manifest_json
		 FROM manifests WHERE manifest_id = $1`, id)
	m, err := scanManifest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// GetSeal implements Ledger.
func (l *PostgresLedger) GetSeal(ctx context.Context, sealID string) (*model.Seal, error) {
	row := l.pool.QueryRow(ctx,
		`SELECT seal_id, manifest_id, approved, policy_version, denial_reason,
		        signature, public_key, issued_at, expires_at, was_executed, executed_at
		 FROM seals WHERE seal_id = $1`, sealID)
	s, err := scanSeal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// MarkExecuted implements Ledger. The conditional UPDATE is the sole
// serialization point of the gateway: two concurrent callers produce exactly
// one affected row.
func (l *PostgresLedger) MarkExecuted(ctx context.Context, sealID string) (time.Time, error) {
	now := time.Now().UTC()
	tag, err := l.pool.Exec(ctx,
		`UPDATE seals SET was_executed = true, executed_at = $2
		 WHERE seal_id = $1 AND was_executed = false AND expires_at > $2`,
		sealID, now,
	)
	if err != nil {
		return time.Time{}, fmt.Errorf("mark executed: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return now, nil
	}

	// No row changed: distinguish replay from expiry from unknown seal.
	var (
		executed  bool
		expiresAt time.Time
	)
	err = l.pool.QueryRow(ctx,
		`SELECT was_executed, expires_at FROM seals WHERE seal_id = $1`, sealID,
	).Scan(&executed, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("check seal state: %w", err)
	}
	if executed {
		return time.Time{}, ErrAlreadyExecuted
	}
	return time.Time{}, ErrExpired
}

// Query implements Ledger.
func (l *PostgresLedger) Query(ctx context.Context, f Filter) ([]*Record, error) {
	f.normalize()

	approvedSet := f.ApprovedOnly != nil
	approvedVal := approvedSet && *f.ApprovedOnly

	rows, err := l.pool.Query(ctx,
		`SELECT m.manifest_id, m.created_at, m.agent_id, m.org_id, m.user_id,
		        m.provider, m.method, m.parameters, m.reasoning, m.confidence_score,
		        m.environment, m.manifest_json,
		        s.seal_id, s.manifest_id, s.approved, s.policy_version, s.denial_reason,
		        s.signature, s.public_key, s.issued_at, s.expires_at, s.was_executed, s.executed_at
		 FROM manifests m
		 LEFT JOIN seals s ON s.manifest_id = m.manifest_id
		 WHERE ($1 = '' OR m.org_id = $1)
		   AND ($2 = '' OR m.agent_id = $2)
		   AND ($3 = '' OR m.provider = $3)
		   AND (NOT $4::boolean OR s.approved = $5)
		 ORDER BY m.created_at DESC
		 LIMIT $6 OFFSET $7`,
		f.OrgID, f.AgentID, f.Provider, approvedSet, approvedVal, f.Limit, f.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query manifests: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Stats implements Ledger.
func (l *PostgresLedger) Stats(ctx context.Context, f Filter) (*Stats, error) {
	var s Stats
	if err := l.pool.QueryRow(ctx,
		`SELECT COUNT(m.manifest_id),
		        COUNT(*) FILTER (WHERE s.approved),
		        COUNT(*) FILTER (WHERE s.approved = false),
		        COUNT(*) FILTER (WHERE s.was_executed)
		 FROM manifests m
		 LEFT JOIN seals s ON s.manifest_id = m.manifest_id
		 WHERE ($1 = '' OR m.org_id = $1)
		   AND ($2 = '' OR m.agent_id = $2)
		   AND ($3 = '' OR m.provider = $3)`,
		f.OrgID, f.AgentID, f.Provider,
	).Scan(&s.TotalManifests, &s.Approved, &s.Denied, &s.Executed); err != nil {
		return nil, fmt.Errorf("aggregate stats: %w", err)
	}
	s.ApprovalRate = rate(s.Approved, s.TotalManifests)
	return &s, nil
}

// nullable maps "" to NULL for optional text columns.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanManifest(row rowScanner) (*ManifestRow, error) {
	var (
		m      ManifestRow
		userID *string
		params []byte
	)
	if err := row.Scan(
		&m.ManifestID, &m.CreatedAt, &m.AgentID, &m.OrgID, &userID,
		&m.Provider, &m.Method, &params, &m.Reasoning, &m.Confidence,
		&m.Environment, &m.Raw,
	); err != nil {
		return nil, err
	}
	if userID != nil {
		m.UserID = *userID
	}
	if err := json.Unmarshal(params, &m.Parameters); err != nil {
		return nil, fmt.Errorf("decode parameters: %w", err)
	}
	return &m, nil
}

func scanSeal(row rowScanner) (*model.Seal, error) {
	var (
		s      model.Seal
		denial *string
	)
	if err := row.Scan(
		&s.SealID, &s.ManifestID, &s.Approved, &s.PolicyVersion, &denial,
		&s.Signature, &s.PublicKey, &s.IssuedAt, &s.ExpiresAt, &s.Executed, &s.ExecutedAt,
	); err != nil {
		return nil, err
	}
	if denial != nil {
		s.DenialReason = *denial
	}
	return &s, nil
}

// scanRecord scans a joined manifest+seal row; the seal columns may be NULL.
func scanRecord(row rowScanner) (*Record, error) {
	var (
		m      ManifestRow
		userID *string
		params []byte

		sealID        *string
		manifestID    *uuid.UUID
		approved      *bool
		policyVersion *string
		denial        *string
		signature     *string
		publicKey     *string
		issuedAt      *time.Time
		expiresAt     *time.Time
		executed      *bool
		executedAt    *time.Time
	)
	if err := row.Scan(
		&m.ManifestID, &m.CreatedAt, &m.AgentID, &m.OrgID, &userID,
		&m.Provider, &m.Method, &params, &m.Reasoning, &m.Confidence,
		&m.Environment, &m.Raw,
		&sealID, &manifestID, &approved, &policyVersion, &denial,
		&signature, &publicKey, &issuedAt, &expiresAt, &executed, &executedAt,
	); err != nil {
		return nil, fmt.Errorf("scan audit row: %w", err)
	}
	if userID != nil {
		m.UserID = *userID
	}
	if err := json.Unmarshal(params, &m.Parameters); err != nil {
		return nil, fmt.Errorf("decode parameters: %w", err)
	}

	rec := &Record{Manifest: &m}
	if sealID != nil {
		s := &model.Seal{
			SealID:        *sealID,
			ManifestID:    *manifestID,
			Approved:      *approved,
			PolicyVersion: *policyVersion,
			Signature:     *signature,
			PublicKey:     *publicKey,
			IssuedAt:      *issuedAt,
			ExpiresAt:     *expiresAt,
			Executed:      *executed,
			ExecutedAt:    executedAt,
		}
		if denial != nil {
			s.DenialReason = *denial
		}
		rec.Seal = s
	}
	return rec, nil
}
