package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"horse.fit/modtrans/internal/engine"
	"horse.fit/modtrans/internal/schema"
)

// FileSource reads a schema-validated entries file.
type FileSource struct {
	Path string

	once sync.Once
	file *schema.EntriesFile
	err  error
}

func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

// File returns the parsed file, reading it on first use.
func (s *FileSource) File() (*schema.EntriesFile, error) {
	s.once.Do(func() {
		raw, err := os.ReadFile(s.Path)
		if err != nil {
			s.err = fmt.Errorf("read %s: %w", s.Path, err)
			return
		}
		s.file, s.err = schema.ValidateEntriesFile(raw)
		if s.err != nil {
			s.err = fmt.Errorf("%s: %w", s.Path, s.err)
		}
	})
	return s.file, s.err
}

func (s *FileSource) Entries(ctx context.Context) ([]engine.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := s.File()
	if err != nil {
		return nil, err
	}
	out := make([]engine.Entry, len(file.Entries))
	copy(out, file.Entries)
	return out, nil
}

// FileSink buffers results and writes them as an entries file, so a
// translated file can be fed back in as input.
type FileSink struct {
	Path       string
	SourceLang string
	TargetLang string

	mu      sync.Mutex
	entries []engine.Entry
}

func NewFileSink(path, sourceLang, targetLang string) *FileSink {
	return &FileSink{Path: path, SourceLang: sourceLang, TargetLang: targetLang}
}

func (s *FileSink) Put(ctx context.Context, key, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, engine.Entry{Key: key, Text: text})
	return nil
}

func (s *FileSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close writes everything put so far.
func (s *FileSink) Close() error {
	s.mu.Lock()
	entries := make([]engine.Entry, len(s.entries))
	copy(entries, s.entries)
	s.mu.Unlock()

	return WriteEntries(s.Path, schema.EntriesFile{
		SourceLang: s.SourceLang,
		TargetLang: s.TargetLang,
		Entries:    entries,
	})
}

// WriteRemaining stores unfinished entries in the input format so the run
// can be resumed with --in.
func WriteRemaining(path, sourceLang string, remaining []engine.Entry) error {
	return WriteEntries(path, schema.EntriesFile{SourceLang: sourceLang, Entries: remaining})
}

// WriteEntries replaces path atomically.
func WriteEntries(path string, file schema.EntriesFile) error {
	if file.Entries == nil {
		file.Entries = []engine.Entry{}
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode entries: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
