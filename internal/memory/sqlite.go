package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the embedded durable store. It keeps the conversations /
// user_info layout so existing databases open unchanged.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating when needed) the database at path. The special
// path ":memory:" opens a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	var dsn string
	if path == ":memory:" {
		dsn = fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(ON)", uuid.NewString())
	} else {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, storageErr("sqlite", "open", err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, storageErr("sqlite", "open", err)
	}
	// One writer keeps appends atomic and ordered.
	db.SetMaxOpenConns(1)

	if err := initSQLiteSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func initSQLiteSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			emotion TEXT,
			pii_redacted INTEGER NOT NULL DEFAULT 0,
			timestamp INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_session_ts ON conversations (session_id, timestamp);`,
		`CREATE TABLE IF NOT EXISTS user_info (
			session_id TEXT PRIMARY KEY,
			name TEXT,
			preferences TEXT,
			context_data TEXT,
			last_interaction INTEGER NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return storageErr("sqlite", "init schema", fmt.Errorf("%q: %w", stmt, err))
		}
	}
	return nil
}

func (s *SQLiteStore) AppendTurn(ctx context.Context, turn Turn) error {
	t, err := normalizeTurn(turn, uuid.NewString, s.now())
	if err != nil {
		return storageErr("sqlite", "append turn", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, session_id, role, content, emotion, pii_redacted, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, string(t.Role), t.Content, nullString(string(t.Emotion)), t.PIIRedacted, t.CreatedAt.UnixMicro(),
	)
	return storageErr("sqlite", "append turn", err)
}

func (s *SQLiteStore) RecentTurns(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	limit = normalizeLimit(limit)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, emotion, pii_redacted, timestamp
		 FROM conversations WHERE session_id = ?
		 ORDER BY timestamp DESC, seq DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, storageErr("sqlite", "recent turns", err)
	}
	defer rows.Close()

	items := make([]Turn, 0, limit)
	for rows.Next() {
		var (
			t       Turn
			role    string
			emo     sql.NullString
			redact  bool
			tsMicro int64
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &role, &t.Content, &emo, &redact, &tsMicro); err != nil {
			return nil, storageErr("sqlite", "scan turn", err)
		}
		t.Role = Role(role)
		t.Emotion = labelOf(emo.String)
		t.PIIRedacted = redact
		t.CreatedAt = time.UnixMicro(tsMicro).UTC()
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("sqlite", "iterate turns", err)
	}
	reverseTurns(items)
	return items, nil
}

func (s *SQLiteStore) UpsertProfile(ctx context.Context, p Profile) error {
	if p.SessionID == "" {
		return storageErr("sqlite", "upsert profile", ErrInvalidTurn)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO user_info (session_id, name, preferences, context_data, last_interaction)
		 VALUES (?, ?, ?, ?, ?)`,
		p.SessionID, nullString(p.Name), nullString(p.Preferences), nullString(p.ContextData), s.now().UnixMicro(),
	)
	return storageErr("sqlite", "upsert profile", err)
}

func (s *SQLiteStore) Profile(ctx context.Context, sessionID string) (Profile, error) {
	var (
		name, prefs, data sql.NullString
		last              int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT name, preferences, context_data, last_interaction FROM user_info WHERE session_id = ?`,
		sessionID,
	).Scan(&name, &prefs, &data, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{SessionID: sessionID}, nil
	}
	if err != nil {
		return Profile{SessionID: sessionID}, storageErr("sqlite", "read profile", err)
	}
	return Profile{
		SessionID:       sessionID,
		Name:            name.String,
		Preferences:     prefs.String,
		ContextData:     data.String,
		LastInteraction: time.UnixMicro(last).UTC(),
	}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func reverseTurns(items []Turn) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}
