package memory

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/blake2b"

	"horse.fit/modtrans/internal/config"
	"horse.fit/modtrans/internal/db"
	"horse.fit/modtrans/internal/language"
)

// Key identifies a translation independent of where the entry lives.
type Key struct {
	SourceText string
	SourceLang string
	TargetLang string
}

func (k Key) normalized() Key {
	return Key{
		SourceText: k.SourceText,
		SourceLang: language.Resolve(k.SourceLang),
		TargetLang: language.Resolve(k.TargetLang),
	}
}

// Hash is the BLAKE2b-256 digest of the source text.
func (k Key) Hash() []byte {
	sum := blake2b.Sum256([]byte(k.SourceText))
	return sum[:]
}

func (k Key) id() string {
	n := k.normalized()
	return n.SourceLang + "|" + n.TargetLang + "|" + hex.EncodeToString(n.Hash())
}

// Record is a remembered translation.
type Record struct {
	Text     string
	Provider string
	Model    string
	// Reviewed marks text a human accepted or edited; it is never replaced by
	// an unreviewed machine translation.
	Reviewed bool
}

type Store interface {
	Lookup(ctx context.Context, key Key) (Record, bool, error)
	Save(ctx context.Context, key Key, record Record) error
	Close() error
}

// Open builds the store selected by MEMORY_BACKEND. It returns nil for "none".
func Open(cfg *config.Config, pool *db.Pool) (Store, error) {
	if cfg == nil {
		return nil, nil
	}
	switch strings.ToLower(strings.TrimSpace(cfg.MemoryBackend)) {
	case "", config.MemoryNone:
		return nil, nil
	case config.MemoryInMemory:
		return NewInMemory(), nil
	case config.MemorySQLite:
		store, err := NewSQLiteStore(cfg.MemorySQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.MemoryPostgres:
		if pool == nil {
			return nil, fmt.Errorf("postgres translation memory needs a database pool")
		}
		return NewPostgresStore(pool), nil
	default:
		return nil, fmt.Errorf("unknown memory backend %q", cfg.MemoryBackend)
	}
}

// InMemory keeps entries for the lifetime of the process.
type InMemory struct {
	mu      sync.RWMutex
	entries map[string]Record
}

func NewInMemory() *InMemory {
	return &InMemory{entries: make(map[string]Record)}
}

func (m *InMemory) Lookup(_ context.Context, key Key) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.entries[key.id()]
	return record, ok, nil
}

func (m *InMemory) Save(_ context.Context, key Key, record Record) error {
	if strings.TrimSpace(record.Text) == "" {
		return fmt.Errorf("translated text is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	id := key.id()
	if existing, ok := m.entries[id]; ok && existing.Reviewed && !record.Reviewed {
		return nil
	}
	m.entries[id] = record
	return nil
}

func (m *InMemory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *InMemory) Close() error { return nil }
