package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"horse.fit/modtrans/internal/cli"
	"horse.fit/modtrans/internal/engine"
	"horse.fit/modtrans/internal/httpapi"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	profilePath := fs.String("profile", "", "Run profile used for submitted runs")
	host := fs.String("host", "0.0.0.0", "Host interface to bind")
	port := fs.Int("port", 8090, "HTTP port")
	readTimeout := fs.Duration("read-timeout", 10*time.Second, "HTTP read timeout")
	writeTimeout := fs.Duration("write-timeout", 0, "HTTP write timeout (0 keeps event streams open)")
	shutdownTimeout := fs.Duration("shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *port <= 0 || *port > 65535 {
		fmt.Fprintln(os.Stderr, "--port must be between 1 and 65535")
		return 2
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
	if len(profile.Credentials) == 0 {
		logger.Warn().Msg("profile has no credentials; runs will be rejected until one is configured")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		cancel()
	}()

	stores, err := openBackends(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("serve failed to open backends")
		fmt.Fprintf(os.Stderr, "Failed to %v\n", err)
		return 1
	}
	defer stores.Close()

	registry := newRegistry(cfg, logger)
	defaultProvider, err := registry.Provider(profile.Provider)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to resolve provider: %v\n", err)
		return 1
	}
	eng := engine.New(defaultProvider, logger, stores.engineOptions(profile)...)

	var history httpapi.HistoryStore
	if stores.pool != nil {
		history = stores.pool
	}

	srv := httpapi.NewServer(eng, registry, profile, history, logger, httpapi.Options{
		Host:            *host,
		Port:            *port,
		ReadTimeout:     *readTimeout,
		WriteTimeout:    *writeTimeout,
		ShutdownTimeout: *shutdownTimeout,
		AllowOrigins:    cfg.CORSAllowedOriginsList(),
	})

	if err := srv.Start(ctx); err != nil {
		logger.Error().Err(err).Str("host", *host).Int("port", *port).Msg("server failed")
		fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
		return 1
	}

	return 0
}
