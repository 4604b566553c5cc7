package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists turns and profiles in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, storageErr("postgres", "connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, storageErr("postgres", "ping", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool, now: func() time.Time { return time.Now().UTC() }}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			emotion TEXT NOT NULL DEFAULT '',
			pii_redacted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_session_created ON conversations (session_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS user_info (
			session_id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			preferences TEXT NOT NULL DEFAULT '',
			context_data TEXT NOT NULL DEFAULT '',
			last_interaction TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return storageErr("postgres", "init schema", fmt.Errorf("%q: %w", stmt, err))
		}
	}
	return nil
}

func (s *PostgresStore) AppendTurn(ctx context.Context, turn Turn) error {
	t, err := normalizeTurn(turn, uuid.NewString, s.now())
	if err != nil {
		return storageErr("postgres", "append turn", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO conversations (id, session_id, role, content, emotion, pii_redacted, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.SessionID, string(t.Role), t.Content, string(t.Emotion), t.PIIRedacted, t.CreatedAt,
	)
	return storageErr("postgres", "append turn", err)
}

func (s *PostgresStore) RecentTurns(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	limit = normalizeLimit(limit)
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, role, content, emotion, pii_redacted, created_at
		 FROM conversations WHERE session_id=$1 ORDER BY created_at DESC, seq DESC LIMIT $2`,
		sessionID, limit,
	)
	if err != nil {
		return nil, storageErr("postgres", "recent turns", err)
	}
	defer rows.Close()

	items := make([]Turn, 0, limit)
	for rows.Next() {
		var (
			t    Turn
			role string
			emo  string
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &role, &t.Content, &emo, &t.PIIRedacted, &t.CreatedAt); err != nil {
			return nil, storageErr("postgres", "scan turn", err)
		}
		t.Role = Role(role)
		t.Emotion = labelOf(emo)
		t.CreatedAt = t.CreatedAt.UTC()
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("postgres", "iterate turns", err)
	}

	// Chronological order for prompt coherence.
	reverseTurns(items)
	return items, nil
}

func (s *PostgresStore) UpsertProfile(ctx context.Context, p Profile) error {
	if p.SessionID == "" {
		return storageErr("postgres", "upsert profile", ErrInvalidTurn)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_info (session_id, name, preferences, context_data, last_interaction)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (session_id) DO UPDATE SET
		   name = EXCLUDED.name,
		   preferences = EXCLUDED.preferences,
		   context_data = EXCLUDED.context_data,
		   last_interaction = EXCLUDED.last_interaction`,
		p.SessionID, p.Name, p.Preferences, p.ContextData, s.now(),
	)
	return storageErr("postgres", "upsert profile", err)
}

func (s *PostgresStore) Profile(ctx context.Context, sessionID string) (Profile, error) {
	p := Profile{SessionID: sessionID}
	err := s.pool.QueryRow(ctx,
		`SELECT name, preferences, context_data, last_interaction FROM user_info WHERE session_id=$1`,
		sessionID,
	).Scan(&p.Name, &p.Preferences, &p.ContextData, &p.LastInteraction)
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{SessionID: sessionID}, nil
	}
	if err != nil {
		return Profile{SessionID: sessionID}, storageErr("postgres", "read profile", err)
	}
	p.LastInteraction = p.LastInteraction.UTC()
	return p, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
