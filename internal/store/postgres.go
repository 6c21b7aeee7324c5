package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/parlakisik/aex-negotiation/internal/model"
)

// Schema creates the tables PostgresStore expects. Queryable columns are
// duplicated out of the JSONB document.
const Schema = `
CREATE TABLE IF NOT EXISTS negotiation_strategies (
	id            TEXT PRIMARY KEY,
	publisher_id  TEXT NOT NULL,
	partner_type  TEXT NOT NULL,
	partner_name  TEXT,
	license_types TEXT[] NOT NULL,
	active        BOOLEAN NOT NULL DEFAULT TRUE,
	created_at    TIMESTAMPTZ NOT NULL,
	document      JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS negotiation_strategies_lookup
	ON negotiation_strategies (publisher_id, partner_type, active);

CREATE TABLE IF NOT EXISTS negotiations (
	id               TEXT PRIMARY KEY,
	publisher_id     TEXT NOT NULL,
	status           TEXT NOT NULL,
	version          BIGINT NOT NULL,
	last_activity_at TIMESTAMPTZ NOT NULL,
	document         JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS negotiations_publisher
	ON negotiations (publisher_id, last_activity_at DESC);

CREATE TABLE IF NOT EXISTS negotiation_rounds (
	id             TEXT PRIMARY KEY,
	negotiation_id TEXT NOT NULL,
	round_number   INTEGER NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	document       JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS negotiation_rounds_negotiation
	ON negotiation_rounds (negotiation_id, created_at);
`

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetStrategy(ctx context.Context, id string) (*model.Strategy, error) {
	row := s.db.QueryRowContext(ctx, "SELECT document FROM negotiation_strategies WHERE id = $1", id)
	var doc []byte
	err := row.Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get strategy: %w", err)
	}
	var st model.Strategy
	if err := json.Unmarshal(doc, &st); err != nil {
		return nil, fmt.Errorf("failed to decode strategy: %w", err)
	}
	return &st, nil
}

func (s *PostgresStore) FindStrategies(ctx context.Context, q StrategyQuery) ([]model.Strategy, error) {
	query := "SELECT document FROM negotiation_strategies WHERE publisher_id = $1 AND partner_type = $2 AND active AND $3 = ANY(license_types)"
	args := []any{q.PublisherID, string(q.PartnerType), q.LicenseType}
	if q.PartnerName == nil {
		query += " AND partner_name IS NULL"
	} else {
		query += " AND partner_name = $4"
		args = append(args, *q.PartnerName)
	}
	query += " ORDER BY created_at, id"
	return s.queryStrategies(ctx, query, args...)
}

func (s *PostgresStore) ListStrategies(ctx context.Context, publisherID string) ([]model.Strategy, error) {
	return s.queryStrategies(ctx,
		"SELECT document FROM negotiation_strategies WHERE publisher_id = $1 ORDER BY created_at, id",
		publisherID)
}

func (s *PostgresStore) queryStrategies(ctx context.Context, query string, args ...any) ([]model.Strategy, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query strategies: %w", err)
	}
	defer rows.Close()
	var out []model.Strategy
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var st model.Strategy
		if err := json.Unmarshal(doc, &st); err != nil {
			return nil, fmt.Errorf("failed to decode strategy: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveStrategy(ctx context.Context, st model.Strategy) error {
	doc, err := json.Marshal(st)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO negotiation_strategies (id, publisher_id, partner_type, partner_name, license_types, active, created_at, document)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			publisher_id = EXCLUDED.publisher_id,
			partner_type = EXCLUDED.partner_type,
			partner_name = EXCLUDED.partner_name,
			license_types = EXCLUDED.license_types,
			active = EXCLUDED.active,
			document = EXCLUDED.document
	`
	_, err = s.db.ExecContext(ctx, query,
		st.ID, st.PublisherID, string(st.PartnerType), nullString(st.PartnerName),
		pq.Array(st.LicenseTypes), st.Active, st.CreatedAt, doc)
	if err != nil {
		return fmt.Errorf("failed to persist strategy: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteStrategy(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM negotiation_strategies WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete strategy: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("strategy %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) GetNegotiation(ctx context.Context, id string) (*model.Negotiation, error) {
	row := s.db.QueryRowContext(ctx, "SELECT document, version FROM negotiations WHERE id = $1", id)
	var doc []byte
	var version int64
	err := row.Scan(&doc, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get negotiation: %w", err)
	}
	var n model.Negotiation
	if err := json.Unmarshal(doc, &n); err != nil {
		return nil, fmt.Errorf("failed to decode negotiation: %w", err)
	}
	n.Version = version
	return &n, nil
}

func (s *PostgresStore) CreateNegotiation(ctx context.Context, n *model.Negotiation) error {
	n.Version = 1
	doc, err := json.Marshal(n)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO negotiations (id, publisher_id, status, version, last_activity_at, document) VALUES ($1, $2, $3, $4, $5, $6)",
		n.ID, n.PublisherID, string(n.Status), n.Version, n.LastActivityAt, doc)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("negotiation %s: %w", n.ID, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("failed to create negotiation: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateNegotiation(ctx context.Context, n *model.Negotiation) error {
	next := *n
	next.Version = n.Version + 1
	doc, err := json.Marshal(next)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE negotiations SET status = $1, version = $2, last_activity_at = $3, document = $4 WHERE id = $5 AND version = $6",
		string(next.Status), next.Version, next.LastActivityAt, doc, n.ID, n.Version)
	if err != nil {
		return fmt.Errorf("failed to update negotiation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, "SELECT 1 FROM negotiations WHERE id = $1", n.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("negotiation %s: %w", n.ID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("negotiation %s at version %d: %w", n.ID, n.Version, ErrVersionConflict)
	}
	n.Version = next.Version
	return nil
}

func (s *PostgresStore) ListNegotiations(ctx context.Context, f NegotiationFilter) ([]model.Negotiation, error) {
	query := "SELECT document, version FROM negotiations WHERE ($1 = '' OR publisher_id = $1) AND ($2 = '' OR status = $2) ORDER BY last_activity_at DESC"
	args := []any{f.PublisherID, string(f.Status)}
	if f.Limit > 0 {
		query += " LIMIT $3"
		args = append(args, f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list negotiations: %w", err)
	}
	defer rows.Close()
	var out []model.Negotiation
	for rows.Next() {
		var doc []byte
		var version int64
		if err := rows.Scan(&doc, &version); err != nil {
			return nil, err
		}
		var n model.Negotiation
		if err := json.Unmarshal(doc, &n); err != nil {
			return nil, fmt.Errorf("failed to decode negotiation: %w", err)
		}
		n.Version = version
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendRound(ctx context.Context, r model.Round) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO negotiation_rounds (id, negotiation_id, round_number, created_at, document) VALUES ($1, $2, $3, $4, $5)",
		r.ID, r.NegotiationID, r.RoundNumber, r.CreatedAt, doc)
	if err != nil {
		return fmt.Errorf("failed to append round: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRounds(ctx context.Context, negotiationID string) ([]model.Round, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT document FROM negotiation_rounds WHERE negotiation_id = $1 ORDER BY created_at, id",
		negotiationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rounds: %w", err)
	}
	defer rows.Close()
	out := []model.Round{}
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var r model.Round
		if err := json.Unmarshal(doc, &r); err != nil {
			return nil, fmt.Errorf("failed to decode round: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
