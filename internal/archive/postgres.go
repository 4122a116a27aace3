package archive

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlArchive = `
CREATE TABLE IF NOT EXISTS session_turns (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    scene_index INT          NOT NULL DEFAULT 0,
    speaker     TEXT         NOT NULL DEFAULT '',
    text        TEXT         NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_session_turns_session_id
    ON session_turns (session_id);

CREATE TABLE IF NOT EXISTS session_memories (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    scene_index INT          NOT NULL,
    memory      TEXT         NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_session_memories_session_id
    ON session_memories (session_id);
`

// Postgres is a [Store] backed by a PostgreSQL database.
//
// All methods are safe for concurrent use.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres establishes a connection pool to the database at dsn and runs
// the schema migration.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlArchive); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: migrate: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// AppendTurn implements [Store].
func (p *Postgres) AppendTurn(ctx context.Context, sessionID string, turn Turn) error {
	const q = `
		INSERT INTO session_turns (session_id, scene_index, speaker, text)
		VALUES ($1, $2, $3, $4)`

	_, err := p.pool.Exec(ctx, q, sessionID, turn.SceneIndex, turn.Speaker, turn.Text)
	if err != nil {
		return fmt.Errorf("archive: append turn: %w", err)
	}
	return nil
}

// SaveMemory implements [Store].
func (p *Postgres) SaveMemory(ctx context.Context, sessionID string, sceneIndex int, memory string) error {
	const q = `
		INSERT INTO session_memories (session_id, scene_index, memory)
		VALUES ($1, $2, $3)`

	_, err := p.pool.Exec(ctx, q, sessionID, sceneIndex, memory)
	if err != nil {
		return fmt.Errorf("archive: save memory: %w", err)
	}
	return nil
}

// Turns returns all archived turns for sessionID ordered by insertion.
func (p *Postgres) Turns(ctx context.Context, sessionID string) ([]Turn, error) {
	const q = `
		SELECT scene_index, speaker, text
		FROM   session_turns
		WHERE  session_id = $1
		ORDER  BY id`

	rows, err := p.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("archive: list turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.SceneIndex, &t.Speaker, &t.Text); err != nil {
			return nil, fmt.Errorf("archive: scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: list turns: %w", err)
	}
	return turns, nil
}

// Ping verifies the pool can reach the database. Used by the readiness probe.
func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("archive: ping: %w", err)
	}
	return nil
}

// Close implements [Store].
func (p *Postgres) Close() {
	p.pool.Close()
}
