package db

import (
	"context"
	"fmt"
)

// InsertRun stores the summary of a finished translation run.
func (p *Pool) InsertRun(ctx context.Context, run *TranslationRun) error {
	if p == nil || p.gdb == nil {
		return fmt.Errorf("database pool is not initialized")
	}
	if run == nil {
		return fmt.Errorf("run is nil")
	}
	if err := p.gdb.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("insert translation run %s: %w", run.RunID, err)
	}
	return nil
}

// ListRuns returns the most recent runs first.
func (p *Pool) ListRuns(ctx context.Context, limit int) ([]TranslationRun, error) {
	if p == nil || p.gdb == nil {
		return nil, fmt.Errorf("database pool is not initialized")
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	var runs []TranslationRun
	if err := p.gdb.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("list translation runs: %w", err)
	}
	return runs, nil
}
