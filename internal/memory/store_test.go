package memory

import (
	"context"
	"path/filepath"
	"testing"

	"horse.fit/modtrans/internal/config"
)

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	key := Key{SourceText: "Gain $GOLD$ gold", SourceLang: "english", TargetLang: "simp_chinese"}

	if _, ok, err := store.Lookup(ctx, key); err != nil || ok {
		t.Fatalf("unexpected lookup before save: ok=%v err=%v", ok, err)
	}

	if err := store.Save(ctx, key, Record{Text: "获得 $GOLD$ 金币", Provider: "gemini"}); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}
	// tags and game language names address the same entry
	alias := Key{SourceText: key.SourceText, SourceLang: "en", TargetLang: "zh-hans"}
	record, ok, err := store.Lookup(ctx, alias)
	if err != nil || !ok {
		t.Fatalf("unexpected lookup after save: ok=%v err=%v", ok, err)
	}
	if record.Text != "获得 $GOLD$ 金币" || record.Provider != "gemini" {
		t.Fatalf("unexpected record: %+v", record)
	}

	if err := store.Save(ctx, key, Record{Text: "人工译文", Reviewed: true}); err != nil {
		t.Fatalf("unexpected reviewed save error: %v", err)
	}
	if err := store.Save(ctx, key, Record{Text: "机器译文"}); err != nil {
		t.Fatalf("unexpected machine save error: %v", err)
	}
	record, _, _ = store.Lookup(ctx, key)
	if record.Text != "人工译文" || !record.Reviewed {
		t.Fatalf("expected reviewed text to survive machine overwrite, got %+v", record)
	}

	other := Key{SourceText: key.SourceText, SourceLang: "en", TargetLang: "de"}
	if _, ok, _ := store.Lookup(ctx, other); ok {
		t.Fatalf("expected different target language to miss")
	}

	if err := store.Save(ctx, key, Record{Text: "  "}); err == nil {
		t.Fatalf("expected empty text to be rejected")
	}
}

func TestInMemoryStore(t *testing.T) {
	t.Parallel()

	store := NewInMemory()
	exerciseStore(t, store)
	if store.Len() != 1 {
		t.Fatalf("unexpected entry count: %d", store.Len())
	}
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "memory.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	exerciseStore(t, store)
	if err := store.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("unexpected reopen error: %v", err)
	}
	defer reopened.Close()
	if _, ok, err := reopened.Lookup(context.Background(), Key{SourceText: "Gain $GOLD$ gold", SourceLang: "en", TargetLang: "zh-hans"}); err != nil || !ok {
		t.Fatalf("expected entry to persist across reopen: ok=%v err=%v", ok, err)
	}
}

func TestOpen(t *testing.T) {
	t.Parallel()

	store, err := Open(&config.Config{MemoryBackend: "none"}, nil)
	if err != nil || store != nil {
		t.Fatalf("unexpected store for none backend: %v %v", store, err)
	}
	store, err = Open(&config.Config{MemoryBackend: "memory"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := store.(*InMemory); !ok {
		t.Fatalf("unexpected store type: %T", store)
	}
	if _, err := Open(&config.Config{MemoryBackend: "postgres"}, nil); err == nil {
		t.Fatalf("expected postgres backend without pool to fail")
	}
}
