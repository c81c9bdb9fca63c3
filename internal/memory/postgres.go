package memory

import (
	"context"
	"strings"

	"horse.fit/modtrans/internal/db"
)

// PostgresStore shares the translation memory through the service database.
type PostgresStore struct {
	pool *db.Pool
}

func NewPostgresStore(pool *db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Lookup(ctx context.Context, key Key) (Record, bool, error) {
	n := key.normalized()
	row, err := s.pool.LookupMemory(ctx, n.Hash(), n.SourceLang, n.TargetLang)
	if err != nil || row == nil {
		return Record{}, false, err
	}
	record := Record{
		Text:     row.TranslatedText,
		Provider: row.ProviderName,
		Reviewed: row.Reviewed,
	}
	if row.ModelName != nil {
		record.Model = *row.ModelName
	}
	return record, true, nil
}

func (s *PostgresStore) Save(ctx context.Context, key Key, record Record) error {
	n := key.normalized()
	var model *string
	if trimmed := strings.TrimSpace(record.Model); trimmed != "" {
		model = &trimmed
	}
	return s.pool.UpsertMemory(ctx, db.UpsertMemoryParams{
		ContentHash:    n.Hash(),
		SourceLang:     n.SourceLang,
		TargetLang:     n.TargetLang,
		OriginalText:   key.SourceText,
		TranslatedText: record.Text,
		ProviderName:   record.Provider,
		ModelName:      model,
		Reviewed:       record.Reviewed,
	})
}

// Close is a no-op; the pool belongs to the caller.
func (s *PostgresStore) Close() error { return nil }
