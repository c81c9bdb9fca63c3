package db

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
)

// schema and extensions the models live in
//
//go:embed sql/pre_automigrate.sql
var preAutoMigrateSQL string

// indexes gorm tags cannot express
//
//go:embed sql/post_automigrate.sql
var postAutoMigrateSQL string

type migrationStep struct {
	name string
	run  func(ctx context.Context, p *Pool) error
}

func migrationSteps() []migrationStep {
	return []migrationStep{
		{name: "create schema", run: execScript(preAutoMigrateSQL)},
		{name: "migrate models", run: func(ctx context.Context, p *Pool) error {
			return p.gdb.WithContext(ctx).AutoMigrate(autoMigrateModels()...)
		}},
		{name: "create indexes", run: execScript(postAutoMigrateSQL)},
	}
}

// autoMigrate brings the modtrans schema up to date. Every step is
// idempotent, so it runs on each pool open.
func (p *Pool) autoMigrate(ctx context.Context) error {
	if p == nil || p.gdb == nil {
		return fmt.Errorf("database pool is not initialized")
	}
	for _, step := range migrationSteps() {
		if err := step.run(ctx, p); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}
	return nil
}

func execScript(sqlText string) func(ctx context.Context, p *Pool) error {
	trimmed := strings.TrimSpace(sqlText)
	return func(ctx context.Context, p *Pool) error {
		if trimmed == "" {
			return nil
		}
		_, err := p.Exec(ctx, trimmed)
		return err
	}
}
