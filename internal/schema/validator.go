package schema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"horse.fit/modtrans/internal/engine"
	"horse.fit/modtrans/internal/language"
)

//go:embed entries.schema.json
var entriesSchemaJSON string

//go:embed run_request.schema.json
var runRequestSchemaJSON string

const (
	entriesSchemaName    = "entries.schema.json"
	runRequestSchemaName = "run_request.schema.json"
)

// EntriesFile is the on-disk input of the translate command.
type EntriesFile struct {
	SourceLang string         `json:"source_lang,omitempty"`
	TargetLang string         `json:"target_lang,omitempty"`
	Entries    []engine.Entry `json:"entries"`
}

// RunRequest is the body of POST /api/v1/runs.
type RunRequest struct {
	RunID               string         `json:"run_id,omitempty"`
	SourceLang          string         `json:"source_lang,omitempty"`
	TargetLang          string         `json:"target_lang"`
	Provider            string         `json:"provider,omitempty"`
	ReviewMode          string         `json:"review_mode,omitempty"`
	StyleHint           string         `json:"style_hint,omitempty"`
	Workers             *int           `json:"workers,omitempty"`
	ConfidenceThreshold *float64       `json:"confidence_threshold,omitempty"`
	Entries             []engine.Entry `json:"entries"`
}

type compiled struct {
	once   sync.Once
	schema *jsonschema.Schema
	err    error
}

var (
	entriesSchema    compiled
	runRequestSchema compiled
)

func ValidateEntriesFile(raw []byte) (*EntriesFile, error) {
	var file EntriesFile
	if err := validateInto(&entriesSchema, entriesSchemaName, entriesSchemaJSON, raw, &file); err != nil {
		return nil, err
	}
	if err := validateLanguages(file.SourceLang, file.TargetLang, false); err != nil {
		return nil, err
	}
	if err := validateEntries(file.Entries); err != nil {
		return nil, err
	}
	return &file, nil
}

func ValidateRunRequest(raw []byte) (*RunRequest, error) {
	var req RunRequest
	if err := validateInto(&runRequestSchema, runRequestSchemaName, runRequestSchemaJSON, raw, &req); err != nil {
		return nil, err
	}
	if err := validateLanguages(req.SourceLang, req.TargetLang, true); err != nil {
		return nil, err
	}
	if err := validateEntries(req.Entries); err != nil {
		return nil, err
	}
	return &req, nil
}

func validateInto(c *compiled, name, source string, raw []byte, out any) error {
	value, err := decodeStrictJSON(raw)
	if err != nil {
		return fmt.Errorf("decode JSON: %w", err)
	}

	schema, err := c.load(name, source)
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("normalize JSON: %w", err)
	}
	if err := json.Unmarshal(normalized, out); err != nil {
		return fmt.Errorf("unmarshal %s: %w", strings.TrimSuffix(name, ".schema.json"), err)
	}
	return nil
}

func (c *compiled) load(name, source string) (*jsonschema.Schema, error) {
	c.once.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource(name, strings.NewReader(source)); err != nil {
			c.err = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, err := compiler.Compile(name)
		if err != nil {
			c.err = fmt.Errorf("compile schema: %w", err)
			return
		}
		c.schema = schema
	})

	if c.err != nil {
		return nil, c.err
	}
	if c.schema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return c.schema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}
	return value, nil
}

func validateLanguages(source, target string, targetRequired bool) error {
	if source != "" && language.Resolve(source) == "" {
		return fmt.Errorf("source_lang %q is not a recognised language", source)
	}
	if target == "" {
		if targetRequired {
			return fmt.Errorf("target_lang must not be empty")
		}
		return nil
	}
	if language.Resolve(target) == "" {
		return fmt.Errorf("target_lang %q is not a recognised language", target)
	}
	return nil
}

func validateEntries(entries []engine.Entry) error {
	seen := make(map[string]int, len(entries))
	for i, entry := range entries {
		if strings.TrimSpace(entry.Key) == "" {
			return fmt.Errorf("entries[%d].key must not be blank", i)
		}
		if prev, dup := seen[entry.Key]; dup {
			return fmt.Errorf("entries[%d].key %q duplicates entries[%d]", i, entry.Key, prev)
		}
		seen[entry.Key] = i
	}
	return nil
}
