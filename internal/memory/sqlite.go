package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"horse.fit/modtrans/internal/globaltime"
)

// SQLiteStore keeps the translation memory in a local database file.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create memory directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	conn.SetMaxOpenConns(1)

	s := &SQLiteStore{db: conn}
	if err := s.migrate(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrate sqlite memory: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS translation_memory (
	entry_key       TEXT PRIMARY KEY,
	source_lang     TEXT NOT NULL,
	target_lang     TEXT NOT NULL,
	original_text   TEXT NOT NULL,
	translated_text TEXT NOT NULL,
	provider_name   TEXT NOT NULL DEFAULT '',
	model_name      TEXT NOT NULL DEFAULT '',
	reviewed        INTEGER NOT NULL DEFAULT 0,
	hit_count       INTEGER NOT NULL DEFAULT 0,
	updated_at      TIMESTAMP NOT NULL
);
`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Lookup(ctx context.Context, key Key) (Record, bool, error) {
	id := key.id()
	row := s.db.QueryRowContext(ctx, `
SELECT translated_text, provider_name, model_name, reviewed
FROM translation_memory WHERE entry_key = ?`, id)

	var record Record
	if err := row.Scan(&record.Text, &record.Provider, &record.Model, &record.Reviewed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("query sqlite memory: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE translation_memory SET hit_count = hit_count + 1 WHERE entry_key = ?`, id); err != nil {
		return Record{}, false, fmt.Errorf("count sqlite memory hit: %w", err)
	}
	return record, true, nil
}

func (s *SQLiteStore) Save(ctx context.Context, key Key, record Record) error {
	if strings.TrimSpace(record.Text) == "" {
		return fmt.Errorf("translated text is required")
	}
	n := key.normalized()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO translation_memory (entry_key, source_lang, target_lang, original_text, translated_text, provider_name, model_name, reviewed, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(entry_key) DO UPDATE SET
	translated_text = excluded.translated_text,
	provider_name = excluded.provider_name,
	model_name = excluded.model_name,
	reviewed = excluded.reviewed,
	updated_at = excluded.updated_at
WHERE excluded.reviewed OR NOT translation_memory.reviewed`,
		key.id(), n.SourceLang, n.TargetLang, key.SourceText, record.Text, record.Provider, record.Model, record.Reviewed, globaltime.UTC())
	if err != nil {
		return fmt.Errorf("upsert sqlite memory: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
