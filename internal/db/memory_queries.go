package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// MemoryRow is one stored translation.
type MemoryRow struct {
	TranslatedText string
	ProviderName   string
	ModelName      *string
	Reviewed       bool
}

// UpsertMemoryParams controls translation memory upserts.
type UpsertMemoryParams struct {
	ContentHash    []byte
	SourceLang     string
	TargetLang     string
	OriginalText   string
	TranslatedText string
	ProviderName   string
	ModelName      *string
	Reviewed       bool
}

// LookupMemory returns the stored translation for a content hash and
// language pair, and bumps its hit count.
func (p *Pool) LookupMemory(ctx context.Context, contentHash []byte, sourceLang, targetLang string) (*MemoryRow, error) {
	const q = `
UPDATE modtrans.translation_memory
SET hit_count = hit_count + 1
WHERE content_hash = $1
  AND source_lang = $2
  AND target_lang = $3
RETURNING translated_text, provider_name, model_name, reviewed
`

	var row MemoryRow
	err := p.QueryRow(ctx, q, contentHash, sourceLang, targetLang).Scan(
		&row.TranslatedText,
		&row.ProviderName,
		&row.ModelName,
		&row.Reviewed,
	)
	if err != nil {
		if errors.Is(err, ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query translation memory: %w", err)
	}
	return &row, nil
}

// UpsertMemory stores a translation. A reviewed row is never overwritten by
// an unreviewed one.
func (p *Pool) UpsertMemory(ctx context.Context, params UpsertMemoryParams) error {
	if len(params.ContentHash) == 0 {
		return fmt.Errorf("content hash is required")
	}
	if strings.TrimSpace(params.TranslatedText) == "" {
		return fmt.Errorf("translated text is required")
	}

	const q = `
INSERT INTO modtrans.translation_memory (
	content_hash,
	source_lang,
	target_lang,
	original_text,
	translated_text,
	provider_name,
	model_name,
	reviewed
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (content_hash, source_lang, target_lang)
DO UPDATE SET
	original_text = EXCLUDED.original_text,
	translated_text = EXCLUDED.translated_text,
	provider_name = EXCLUDED.provider_name,
	model_name = EXCLUDED.model_name,
	reviewed = EXCLUDED.reviewed,
	updated_at = now()
WHERE EXCLUDED.reviewed OR NOT modtrans.translation_memory.reviewed
`

	if _, err := p.Exec(
		ctx,
		q,
		params.ContentHash,
		params.SourceLang,
		params.TargetLang,
		params.OriginalText,
		params.TranslatedText,
		params.ProviderName,
		params.ModelName,
		params.Reviewed,
	); err != nil {
		return fmt.Errorf("upsert translation memory: %w", err)
	}
	return nil
}
