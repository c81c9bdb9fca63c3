package catalog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"horse.fit/modtrans/internal/engine"
)

func TestFileSourceReadsEntries(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "in.json")
	content := `{"source_lang": "en", "entries": [{"key": "a", "text": "Hello $NAME$"}, {"key": "b", "text": ""}]}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}

	source := NewFileSource(path)
	entries, err := source.Entries(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 2 || entries[0].Text != "Hello $NAME$" || entries[1].Key != "b" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	file, _ := source.File()
	if file.SourceLang != "en" {
		t.Fatalf("unexpected source language: %q", file.SourceLang)
	}
}

func TestFileSourceRejectsInvalidFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "in.json")
	if err := os.WriteFile(path, []byte(`{"entries": [{"text": "no key"}]}`), 0o644); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	if _, err := NewFileSource(path).Entries(context.Background()); err == nil || !strings.Contains(err.Error(), path) {
		t.Fatalf("expected validation error naming the file, got %v", err)
	}
	if _, err := NewFileSource(filepath.Join(t.TempDir(), "missing.json")).Entries(context.Background()); err == nil {
		t.Fatalf("expected missing file to fail")
	}
}

func TestFileSinkRoundTripsThroughSource(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.json")
	sink := NewFileSink(path, "en", "fr")
	ctx := context.Background()
	for _, kv := range [][2]string{{"a", "Bonjour"}, {"b", "Au revoir"}} {
		if err := sink.Put(ctx, kv[0], kv[1]); err != nil {
			t.Fatalf("unexpected put error: %v", err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}

	source := NewFileSource(path)
	entries, err := source.Entries(ctx)
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if len(entries) != 2 || entries[0].Key != "a" || entries[1].Text != "Au revoir" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if file, _ := source.File(); file.TargetLang != "fr" {
		t.Fatalf("unexpected target language: %q", file.TargetLang)
	}
}

func TestWriteRemainingEmpty(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "remaining.json")
	if err := WriteRemaining(path, "en", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if !strings.Contains(string(raw), `"entries": []`) {
		t.Fatalf("unexpected remaining file: %s", raw)
	}

	if err := WriteRemaining(path, "en", []engine.Entry{{Key: "k", Text: "t"}}); err != nil {
		t.Fatalf("unexpected overwrite error: %v", err)
	}
	files, _ := os.ReadDir(dir)
	if len(files) != 1 {
		t.Fatalf("temp files left behind: %d entries", len(files))
	}
}
