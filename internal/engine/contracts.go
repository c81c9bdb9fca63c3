package engine

import "context"

// Entry is one localisation string handed to a run.
type Entry struct {
	Key     string `json:"key"`
	Text    string `json:"text"`
	Context string `json:"context,omitempty"`
}

// Source supplies the entries of a run.
type Source interface {
	Entries(ctx context.Context) ([]Entry, error)
}

// Sink receives final translations in submission order.
type Sink interface {
	Put(ctx context.Context, key, text string) error
}

// Scorer rates how confidently text reads as the target language.
type Scorer interface {
	Score(text, lang string) (float64, bool)
}

// Recorder persists the summary of a finished run.
type Recorder interface {
	RecordRun(ctx context.Context, summary Summary) error
}

type RecorderFunc func(ctx context.Context, summary Summary) error

func (f RecorderFunc) RecordRun(ctx context.Context, summary Summary) error {
	return f(ctx, summary)
}
