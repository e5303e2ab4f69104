package storage

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Schema creates the audit tables when they do not exist yet.
const Schema = `
CREATE TABLE IF NOT EXISTS compilations (
	id              UUID PRIMARY KEY,
	input_path      TEXT NOT NULL,
	input_digest    TEXT NOT NULL,
	output_path     TEXT NOT NULL,
	artifact_digest TEXT NOT NULL DEFAULT '',
	arch            TEXT NOT NULL,
	basic           BOOLEAN NOT NULL DEFAULT FALSE,
	group_count     INTEGER NOT NULL DEFAULT 0,
	rule_count      INTEGER NOT NULL DEFAULT 0,
	instructions    INTEGER NOT NULL DEFAULT 0,
	artifact_bytes  INTEGER NOT NULL DEFAULT 0,
	status          TEXT NOT NULL,
	error_kind      TEXT NOT NULL DEFAULT '',
	error           TEXT NOT NULL DEFAULT '',
	duration_ms     BIGINT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS compilations_created_at_idx ON compilations (created_at DESC);
CREATE TABLE IF NOT EXISTS compilation_groups (
	compilation_id    UUID NOT NULL REFERENCES compilations (id) ON DELETE CASCADE,
	position          INTEGER NOT NULL,
	name              TEXT NOT NULL,
	rules             INTEGER NOT NULL,
	conditional_rules INTEGER NOT NULL,
	instructions      INTEGER NOT NULL,
	PRIMARY KEY (compilation_id, position)
);`

type dbConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB wraps a PostgreSQL connection pool for audit logging.
type DB struct {
	conn dbConn
	pool *pgxpool.Pool
}

// New creates a new database connection pool.
func New(ctx context.Context, dsn string, maxConns int32, maxLifetime time.Duration) (*DB, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database DSN: %w", err)
	}

	config.MaxConns = maxConns
	config.MinConns = 0
	config.MaxConnLifetime = maxLifetime
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	log.Debug().Msg("connected to PostgreSQL")
	return &DB{conn: pool, pool: pool}, nil
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// EnsureSchema creates the audit tables.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.conn.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// LogCompilation inserts a compilation record and its groups. Inserts are
// idempotent so a retried write does not fail on the primary key.
func (db *DB) LogCompilation(ctx context.Context, c *Compilation) error {
	query := `
		INSERT INTO compilations (id, input_path, input_digest, output_path, artifact_digest,
			arch, basic, group_count, rule_count, instructions, artifact_bytes,
			status, error_kind, error, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO NOTHING`

	_, err := db.conn.Exec(ctx, query,
		c.ID, c.InputPath, c.InputDigest, c.OutputPath, c.ArtifactDigest,
		c.Arch, c.Basic, c.GroupCount, c.RuleCount, c.Instructions, c.ArtifactBytes,
		c.Status, c.ErrorKind, truncateForDB(c.Error, 4096), c.DurationMS, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting compilation: %w", err)
	}

	groupQuery := `
		INSERT INTO compilation_groups (compilation_id, position, name, rules,
			conditional_rules, instructions)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (compilation_id, position) DO NOTHING`

	for _, g := range c.Groups {
		if _, err := db.conn.Exec(ctx, groupQuery,
			c.ID, g.Position, g.Name, g.Rules, g.ConditionalRules, g.Instructions,
		); err != nil {
			return fmt.Errorf("inserting group %q: %w", g.Name, err)
		}
	}
	return nil
}

// GetCompilation retrieves a single compilation and its groups by ID.
func (db *DB) GetCompilation(ctx context.Context, id string) (*Compilation, error) {
	query := `
		SELECT id, input_path, input_digest, output_path, artifact_digest,
			arch, basic, group_count, rule_count, instructions, artifact_bytes,
			status, error_kind, error, duration_ms, created_at
		FROM compilations WHERE id = $1`

	var c Compilation
	err := db.conn.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.InputPath, &c.InputDigest, &c.OutputPath, &c.ArtifactDigest,
		&c.Arch, &c.Basic, &c.GroupCount, &c.RuleCount, &c.Instructions, &c.ArtifactBytes,
		&c.Status, &c.ErrorKind, &c.Error, &c.DurationMS, &c.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("querying compilation %s: %w", id, err)
	}

	rows, err := db.conn.Query(ctx, `
		SELECT compilation_id, position, name, rules, conditional_rules, instructions
		FROM compilation_groups WHERE compilation_id = $1
		ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("querying groups of %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var g GroupRecord
		if err := rows.Scan(
			&g.CompilationID, &g.Position, &g.Name, &g.Rules, &g.ConditionalRules, &g.Instructions,
		); err != nil {
			return nil, fmt.Errorf("scanning group row: %w", err)
		}
		c.Groups = append(c.Groups, g)
	}
	return &c, rows.Err()
}

// ListCompilations queries compilations with optional filters, newest first.
func (db *DB) ListCompilations(ctx context.Context, filter CompilationFilter) ([]Compilation, error) {
	query := `
		SELECT id, input_path, output_path, arch, group_count, instructions,
			status, error_kind, duration_ms, created_at
		FROM compilations
		WHERE ($1 = '' OR arch = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := db.conn.Query(ctx, query,
		filter.Arch, filter.Status, limit, filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying compilations: %w", err)
	}
	defer rows.Close()

	var results []Compilation
	for rows.Next() {
		var c Compilation
		if err := rows.Scan(
			&c.ID, &c.InputPath, &c.OutputPath, &c.Arch, &c.GroupCount, &c.Instructions,
			&c.Status, &c.ErrorKind, &c.DurationMS, &c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning compilation row: %w", err)
		}
		results = append(results, c)
	}

	return results, rows.Err()
}

// truncateForDB cuts s to at most maxLen bytes without splitting a rune.
func truncateForDB(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
