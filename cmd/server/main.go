package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/sarir/personnel-import/internal/config"
	"github.com/sarir/personnel-import/internal/gateway"
	"github.com/sarir/personnel-import/internal/importer"
	"github.com/sarir/personnel-import/internal/logging"
	"github.com/sarir/personnel-import/internal/mapping"
	"github.com/sarir/personnel-import/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"backend", cfg.Backend.URL,
		"resource", cfg.Backend.Resource,
		"import_max_concurrent", cfg.Import.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	gw := gateway.New(gateway.Options{
		BaseURL:        cfg.Backend.URL,
		Resource:       cfg.Backend.Resource,
		AttemptTimeout: cfg.Backend.AttemptTimeout,
	})
	slog.Debug("backend candidates", "submit", gw.Candidates())

	var profiles *mapping.Profiles
	if cfg.Import.ProfilesFile != "" {
		profiles, err = mapping.LoadProfiles(cfg.Import.ProfilesFile)
		if err != nil {
			slog.Error("failed to load mapping profiles", "error", err)
			os.Exit(1)
		}
		slog.Info("mapping profiles loaded", "file", cfg.Import.ProfilesFile, "profiles", profiles.Names())
	}

	var planner importer.Planner
	switch {
	case cfg.Import.Profile != "":
		if _, err := profiles.Get(cfg.Import.Profile); err != nil {
			slog.Error("default mapping profile unusable", "error", err)
			os.Exit(1)
		}
		planner = importer.ProfilePlan(profiles, cfg.Import.Profile)
	case cfg.Import.AutoMap:
		planner = importer.AutoPlan(gw)
	}

	orch := importer.New(importer.Options{
		Gateway:       gw,
		Planner:       planner,
		Charset:       cfg.Import.Charset,
		DecodeTimeout: cfg.Import.DecodeTimeout,
		MaxFileSize:   cfg.Import.MaxFileSize,
	})
	preview := importer.New(importer.Options{
		Charset:       cfg.Import.Charset,
		DecodeTimeout: cfg.Import.DecodeTimeout,
		MaxFileSize:   cfg.Import.MaxFileSize,
		DryRun:        true,
	})

	limiter := importer.NewLimiter(cfg.Import.MaxConcurrent, cfg.Import.MaxWaitTime)
	tracker := importer.NewTracker(orch, importer.TrackerOptions{
		Limiter:   limiter,
		Retention: cfg.Import.Retention,
		Timeout:   cfg.Import.Timeout,
	})

	server := web.NewServer(cfg, web.Deps{
		Gateway:  gw,
		Tracker:  tracker,
		Preview:  preview,
		Limiter:  limiter,
		Profiles: profiles,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("server starting", "addr", cfg.Server.Addr())
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if st := limiter.Status(); st.Active > 0 {
			slog.Info("waiting for imports to complete", "active", st.Active)
			if err := limiter.WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("imports did not complete in time", "error", err)
			} else {
				slog.Info("all imports completed")
			}
		}

		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
