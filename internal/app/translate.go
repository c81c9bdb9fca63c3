package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"horse.fit/modtrans/internal/catalog"
	"horse.fit/modtrans/internal/cli"
	"horse.fit/modtrans/internal/engine"
	"horse.fit/modtrans/internal/langdetect"
	"horse.fit/modtrans/internal/language"
)

func runTranslate(args []string) int {
	fs := flag.NewFlagSet("translate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	inPath := fs.String("in", "", "Entries JSON file to translate")
	outPath := fs.String("out", "", "Where to write the translated entries")
	from := fs.String("from", "", "Source language (defaults to the input file, then the profile)")
	to := fs.String("to", "", "Target language (defaults to the input file, then the profile)")
	profilePath := fs.String("profile", "", "Run profile (YAML, JSON or TOML)")
	providerName := fs.String("provider", "", "Translation provider: gemini, openai or local")
	onReview := fs.String("on-review", onReviewPrompt, "How to answer reviews: prompt, accept or original")
	resumeOut := fs.String("resume-out", "", "Where to write unfinished entries (default <out>.remaining.json)")
	workers := fs.Int("workers", 0, "Override the profile's worker count")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	in := strings.TrimSpace(*inPath)
	out := strings.TrimSpace(*outPath)
	if in == "" || out == "" {
		fmt.Fprintln(os.Stderr, "--in and --out are required")
		return 2
	}
	policy, err := parseOnReview(*onReview)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if *workers < 0 {
		fmt.Fprintln(os.Stderr, "--workers must be >= 0")
		return 2
	}
	resumePath := strings.TrimSpace(*resumeOut)
	if resumePath == "" {
		resumePath = remainingPath(out)
	}

	cfg, logger, err := loadEnvironment(envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to %v\n", err)
		return 1
	}
	profile, err := loadProfile(cfg, *profilePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load profile: %v\n", err)
		return 1
	}

	source := catalog.NewFileSource(in)
	file, err := source.File()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read entries: %v\n", err)
		return 1
	}

	sourceLang := firstNonEmpty(*from, file.SourceLang)
	if sourceLang == "" && profile.DetectLanguage {
		texts := make([]string, len(file.Entries))
		for i, entry := range file.Entries {
			texts[i] = entry.Text
		}
		sourceLang = langdetect.DetectSample(texts)
		if sourceLang != "" {
			logger.Info().Str("source_lang", sourceLang).Msg("detected source language")
		}
	}
	sourceLang = firstNonEmpty(sourceLang, profile.SourceLang)
	targetLang := firstNonEmpty(*to, file.TargetLang, profile.TargetLang)
	if targetLang == "" {
		fmt.Fprintln(os.Stderr, "--to is required when neither the input file nor the profile names a target language")
		return 2
	}
	if language.Resolve(targetLang) == "" {
		fmt.Fprintf(os.Stderr, "Unknown target language: %s\n", targetLang)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, err := openBackends(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("translate failed to open backends")
		fmt.Fprintf(os.Stderr, "Failed to %v\n", err)
		return 1
	}
	defer stores.Close()

	registry := newRegistry(cfg, logger)
	provider, err := registry.Provider(firstNonEmpty(*providerName, profile.Provider))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to resolve provider: %v\n", err)
		return 2
	}

	settings := engine.SettingsFromProfile(profile)
	if *workers > 0 {
		settings.Workers = *workers
	}
	eng := engine.New(provider, logger, stores.engineOptions(profile)...)

	summary, err := translateFile(ctx, eng, engine.Job{
		Entries:    file.Entries,
		SourceLang: sourceLang,
		TargetLang: targetLang,
		Settings:   settings,
	}, translateOutput{
		OutPath:    out,
		ResumePath: resumePath,
	}, newReviewer(policy, os.Stdin, os.Stdout), os.Stdout)

	fmt.Printf(
		"translate in=%s out=%s from=%s to=%s provider=%s status=%s total=%d succeeded=%d failed=%d needs_review=%d memory_hits=%d unfinished=%d\n",
		in,
		out,
		sourceLang,
		targetLang,
		provider.Name(),
		summary.Status,
		summary.Total,
		summary.Succeeded,
		summary.Failed,
		summary.NeedsReview,
		summary.MemoryHits,
		summary.Pending+summary.InFlight,
	)
	if err != nil {
		logger.Error().Err(err).Str("run_id", summary.RunID).Msg("translate failed")
		fmt.Fprintf(os.Stderr, "Translate failed: %v\n", err)
		return 1
	}
	return 0
}

type translateOutput struct {
	OutPath    string
	ResumePath string
}

// translateFile drives one run to its end: it prints progress, answers
// reviews, writes final results in entry order and the unfinished entries
// for a later --in.
func translateFile(ctx context.Context, eng *engine.Engine, job engine.Job, out translateOutput, rv *reviewer, stdout io.Writer) (engine.Summary, error) {
	run, err := eng.Submit(ctx, job)
	if err != nil {
		return engine.Summary{Status: engine.RunFailed}, fmt.Errorf("start run: %w", err)
	}

	go func() {
		select {
		case <-ctx.Done():
			run.Cancel()
		case <-run.Done():
		}
	}()

	reviewErr := make(chan error, 1)
	go func() {
		reviewErr <- rv.resolveReviews(ctx, run)
	}()

	total := len(job.Entries)
	settled := 0
	for ev := range run.Progress(context.Background()) {
		printProgress(stdout, ev, total, &settled)
	}
	_ = run.Wait(context.Background())
	// a prompt can still be blocked on stdin after a cancel
	select {
	case err := <-reviewErr:
		if err != nil {
			return run.Summary(), err
		}
	default:
	}

	sink := catalog.NewFileSink(out.OutPath, job.SourceLang, job.TargetLang)
	if _, err := run.Flush(context.Background(), sink); err != nil {
		return run.Summary(), fmt.Errorf("collect results: %w", err)
	}
	if err := sink.Close(); err != nil {
		return run.Summary(), fmt.Errorf("write %s: %w", out.OutPath, err)
	}

	if remaining := run.Remaining(); len(remaining) > 0 && out.ResumePath != "" {
		if err := catalog.WriteRemaining(out.ResumePath, job.SourceLang, remaining); err != nil {
			return run.Summary(), fmt.Errorf("write %s: %w", out.ResumePath, err)
		}
		fmt.Fprintf(stdout, "%d unfinished entries written to %s\n", len(remaining), out.ResumePath)
	}

	summary := run.Summary()
	if err := run.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

func printProgress(w io.Writer, ev engine.TaskStatus, total int, settled *int) {
	switch ev.Type {
	case engine.EventTask:
		switch ev.Status {
		case engine.StatusSucceeded, engine.StatusFailed:
			*settled++
			if ev.Error != "" {
				fmt.Fprintf(w, "[%d/%d] %s %s: %s\n", *settled, total, ev.Key, ev.Status, ev.Error)
				return
			}
			fmt.Fprintf(w, "[%d/%d] %s %s (%s)\n", *settled, total, ev.Key, ev.Status, ev.Cause)
		case engine.StatusPending:
			if ev.Attempt > 0 {
				fmt.Fprintf(w, "retry %s after attempt %d (%s)\n", ev.Key, ev.Attempt, ev.Cause)
			}
		}
	case engine.EventReview:
		if ev.Cause == engine.CauseReviewResolved {
			fmt.Fprintf(w, "review %s resolved for %s\n", ev.ReviewID, ev.Key)
			return
		}
		*settled++
		fmt.Fprintf(w, "[%d/%d] %s %s (%s)\n", *settled, total, ev.Key, ev.Status, ev.Cause)
	case engine.EventStall:
		fmt.Fprintf(w, "stalled: no usable credential for %s\n", ev.Key)
	case engine.EventRun:
		if ev.Cause == engine.CauseReviewsSurfaced {
			fmt.Fprintf(w, "%d translations await review\n", ev.Index)
		}
	}
}

// remainingPath derives the resume file next to the output file.
func remainingPath(out string) string {
	ext := filepath.Ext(out)
	return strings.TrimSuffix(out, ext) + ".remaining.json"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
