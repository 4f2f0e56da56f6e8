// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/registrolabs/renec-harvester/internal/registry"
)

var kindTables = map[registry.EntityKind]string{
	registry.KindStandard:  "standards",
	registry.KindCertifier: "certifiers",
	registry.KindCenter:    "centers",
	registry.KindSector:    "sectors",
	registry.KindCommittee: "committees",
}

// EntityStoreConfig controls the Postgres connection pool used for entity rows.
type EntityStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// EntityStore persists versioned entity rows and relationship links in
// Postgres. Each entity kind gets its own table with identical columns;
// upserts for a natural key serialize on an advisory lock so concurrent
// workers never race the current-row check.
type EntityStore struct {
	pool dbPool
}

// NewEntityStore creates a Postgres-backed EntityStore using the provided config.
func NewEntityStore(ctx context.Context, cfg EntityStoreConfig) (*EntityStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &EntityStore{pool: pool}, nil
}

// NewEntityStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewEntityStoreWithPool(pool dbPool) (*EntityStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &EntityStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *EntityStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Upsert applies one observation inside a single transaction. The
// advisory lock keys on kind plus natural key, so two workers observing
// the same entity take turns while unrelated keys proceed in parallel.
func (s *EntityStore) Upsert(ctx context.Context, rec registry.Record, observedAt time.Time, snapshotURI string) (registry.UpsertOutcome, error) {
	table, ok := kindTables[rec.Kind]
	if !ok {
		return "", &registry.StorageError{Op: "upsert", Err: fmt.Errorf("unknown kind %q", rec.Kind)}
	}
	fieldsJSON, err := json.Marshal(rec.Fields)
	if err != nil {
		return "", &registry.StorageError{Op: "upsert", Err: fmt.Errorf("marshal fields: %w", err)}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", &registry.StorageError{Op: "upsert", Err: fmt.Errorf("begin: %w", err)}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lockKey := string(rec.Kind) + ":" + rec.NaturalKey
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
		return "", &registry.StorageError{Op: "upsert", Err: fmt.Errorf("advisory lock: %w", err)}
	}

	query := fmt.Sprintf(`
SELECT content_hash, first_seen, last_seen
FROM %s
WHERE natural_key = $1
ORDER BY first_seen DESC
LIMIT 1
FOR UPDATE`, table)

	var (
		currentHash string
		firstSeen   time.Time
		lastSeen    time.Time
	)
	err = tx.QueryRow(ctx, query, rec.NaturalKey).Scan(&currentHash, &firstSeen, &lastSeen)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if err := insertVersion(ctx, tx, table, rec, fieldsJSON, observedAt, snapshotURI); err != nil {
			return "", err
		}
		if err := tx.Commit(ctx); err != nil {
			return "", &registry.StorageError{Op: "upsert", Err: fmt.Errorf("commit: %w", err)}
		}
		return registry.OutcomeCreated, nil
	case err != nil:
		return "", &registry.StorageError{Op: "upsert", Err: fmt.Errorf("select current: %w", err)}
	}

	if currentHash == rec.ContentHash {
		update := fmt.Sprintf(`
UPDATE %s
SET last_seen = GREATEST(last_seen, $1)
WHERE natural_key = $2 AND first_seen = $3`, table)
		if _, err := tx.Exec(ctx, update, observedAt, rec.NaturalKey, firstSeen); err != nil {
			return "", &registry.StorageError{Op: "upsert", Err: fmt.Errorf("refresh last_seen: %w", err)}
		}
		if err := tx.Commit(ctx); err != nil {
			return "", &registry.StorageError{Op: "upsert", Err: fmt.Errorf("commit: %w", err)}
		}
		return registry.OutcomeUnchanged, nil
	}

	// Content drifted: seal the prior row and open a new one.
	seal := fmt.Sprintf(`
UPDATE %s
SET last_seen = GREATEST(last_seen, $1)
WHERE natural_key = $2 AND first_seen = $3`, table)
	if _, err := tx.Exec(ctx, seal, observedAt, rec.NaturalKey, firstSeen); err != nil {
		return "", &registry.StorageError{Op: "upsert", Err: fmt.Errorf("seal prior row: %w", err)}
	}
	if err := insertVersion(ctx, tx, table, rec, fieldsJSON, observedAt, snapshotURI); err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", &registry.StorageError{Op: "upsert", Err: fmt.Errorf("commit: %w", err)}
	}
	return registry.OutcomeVersioned, nil
}

func insertVersion(ctx context.Context, tx pgx.Tx, table string, rec registry.Record, fieldsJSON []byte, observedAt time.Time, snapshotURI string) error {
	query := fmt.Sprintf(`
INSERT INTO %s (
	natural_key,
	fields,
	content_hash,
	source_url,
	snapshot_uri,
	first_seen,
	last_seen
) VALUES (
	$1,$2,$3,$4,$5,$6,$7
)`, table)
	_, err := tx.Exec(ctx, query,
		rec.NaturalKey,
		fieldsJSON,
		rec.ContentHash,
		rec.SourceURL,
		snapshotURI,
		observedAt,
		observedAt,
	)
	if err != nil {
		return &registry.StorageError{Op: "upsert", Err: fmt.Errorf("insert version: %w", err)}
	}
	return nil
}

// Current resolves the row with the greatest first_seen for the key.
func (s *EntityStore) Current(ctx context.Context, kind registry.EntityKind, key string) (registry.EntityVersion, error) {
	table, ok := kindTables[kind]
	if !ok {
		return registry.EntityVersion{}, &registry.StorageError{Op: "current", Err: fmt.Errorf("unknown kind %q", kind)}
	}
	query := fmt.Sprintf(`
SELECT natural_key, fields, content_hash, source_url, snapshot_uri, first_seen, last_seen
FROM %s
WHERE natural_key = $1
ORDER BY first_seen DESC
LIMIT 1`, table)

	row, err := scanVersion(s.pool.QueryRow(ctx, query, key), kind)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return registry.EntityVersion{}, registry.ErrNotFound
		}
		return registry.EntityVersion{}, &registry.StorageError{Op: "current", Err: err}
	}
	return row, nil
}

// History returns every stored version ordered by first_seen ascending.
func (s *EntityStore) History(ctx context.Context, kind registry.EntityKind, key string) ([]registry.EntityVersion, error) {
	table, ok := kindTables[kind]
	if !ok {
		return nil, &registry.StorageError{Op: "history", Err: fmt.Errorf("unknown kind %q", kind)}
	}
	query := fmt.Sprintf(`
SELECT natural_key, fields, content_hash, source_url, snapshot_uri, first_seen, last_seen
FROM %s
WHERE natural_key = $1
ORDER BY first_seen ASC`, table)

	rows, err := s.pool.Query(ctx, query, key)
	if err != nil {
		return nil, &registry.StorageError{Op: "history", Err: err}
	}
	defer rows.Close()

	versions, err := collectVersions(rows, kind)
	if err != nil {
		return nil, &registry.StorageError{Op: "history", Err: err}
	}
	if len(versions) == 0 {
		return nil, registry.ErrNotFound
	}
	return versions, nil
}

// ListCurrent pages through the current projection for a kind, ordered
// by natural key. DISTINCT ON picks the row with the greatest
// first_seen per key, which is the same rule Current applies.
func (s *EntityStore) ListCurrent(ctx context.Context, kind registry.EntityKind, limit, offset int) ([]registry.EntityVersion, error) {
	table, ok := kindTables[kind]
	if !ok {
		return nil, &registry.StorageError{Op: "list_current", Err: fmt.Errorf("unknown kind %q", kind)}
	}
	query := fmt.Sprintf(`
SELECT DISTINCT ON (natural_key)
	natural_key, fields, content_hash, source_url, snapshot_uri, first_seen, last_seen
FROM %s
ORDER BY natural_key ASC, first_seen DESC
LIMIT $1 OFFSET $2`, table)

	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, &registry.StorageError{Op: "list_current", Err: err}
	}
	defer rows.Close()

	versions, err := collectVersions(rows, kind)
	if err != nil {
		return nil, &registry.StorageError{Op: "list_current", Err: err}
	}
	return versions, nil
}

// AddRelationship records a link once per key pair; replays are no-ops.
func (s *EntityStore) AddRelationship(ctx context.Context, rel registry.Relationship) error {
	query := `
INSERT INTO relationships (kind, from_key, to_key, run_id, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (kind, from_key, to_key) DO NOTHING`
	if _, err := s.pool.Exec(ctx, query, rel.Kind, rel.FromKey, rel.ToKey, rel.RunID, rel.CreatedAt); err != nil {
		return &registry.StorageError{Op: "add_relationship", Err: err}
	}
	return nil
}

func scanVersion(row pgx.Row, kind registry.EntityKind) (registry.EntityVersion, error) {
	var (
		v          registry.EntityVersion
		fieldsJSON []byte
	)
	err := row.Scan(
		&v.NaturalKey,
		&fieldsJSON,
		&v.ContentHash,
		&v.SourceURL,
		&v.SnapshotURI,
		&v.FirstSeen,
		&v.LastSeen,
	)
	if err != nil {
		return registry.EntityVersion{}, err
	}
	v.Kind = kind
	if len(fieldsJSON) > 0 {
		if err := json.Unmarshal(fieldsJSON, &v.Fields); err != nil {
			return registry.EntityVersion{}, fmt.Errorf("unmarshal fields: %w", err)
		}
	}
	return v, nil
}

func collectVersions(rows pgx.Rows, kind registry.EntityKind) ([]registry.EntityVersion, error) {
	var out []registry.EntityVersion
	for rows.Next() {
		v, err := scanVersion(rows, kind)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
