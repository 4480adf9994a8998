package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/manthysbr/reelforge/internal/adapters/docker"
	"github.com/manthysbr/reelforge/internal/adapters/duckdb"
	"github.com/manthysbr/reelforge/internal/adapters/providers"
	"github.com/manthysbr/reelforge/internal/adapters/reddit"
	appconfig "github.com/manthysbr/reelforge/internal/config"
	"github.com/manthysbr/reelforge/internal/core/domain"
	"github.com/manthysbr/reelforge/internal/core/ports"
	"github.com/manthysbr/reelforge/internal/core/services"
	"github.com/manthysbr/reelforge/pkg/kernel"
)

func main() {
	// A missing .env is fine; values may come from the environment.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(os.Getenv("REELFORGE_LOG_LEVEL")),
	}))
	logger.Info("starting reelforge kernel")

	if err := run(logger); err != nil {
		logger.Error("kernel startup failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	base, err := appconfig.Load()
	if err != nil {
		return err
	}

	repo, err := duckdb.NewRepository(base.Storage.ArchivePath)
	if err != nil {
		return fmt.Errorf("failed to init repository: %w", err)
	}
	defer repo.Close()

	secretKey, err := appconfig.NewSecretKey(appconfig.DefaultKeyPath())
	if err != nil {
		return fmt.Errorf("failed to init secret key: %w", err)
	}

	// Settings saved through the API win over the file and environment.
	settings, err := appconfig.NewSettingsStore(ctx, logger, repo, secretKey, base)
	if err != nil {
		return fmt.Errorf("failed to init settings store: %w", err)
	}
	cfg := settings.GetConfig()

	factory := providers.NewFactory(logger)
	defer factory.Close()

	workspace := services.NewWorkspaceManager(cfg.Storage.WorkspaceDir)
	reapLeftovers(ctx, logger, factory, workspace, cfg)

	collab, err := factory.Build(cfg)
	if err != nil {
		return fmt.Errorf("failed to build collaborators from config: %w", err)
	}

	store := services.NewJobStore()
	eventBus := services.NewEventBus(logger)
	executor := services.NewPipelineExecutor(logger, store, eventBus, collab, services.PipelineConfigFrom(cfg.Pipeline))
	scheduler := services.NewJobScheduler(logger, services.SchedulerConfig{
		MaxConcurrentJobs: cfg.Pipeline.MaxConcurrentJobs,
	})
	jobs := services.NewJobService(logger, store, executor, scheduler, workspace, eventBus, repo, services.JobServiceConfig{
		DefaultDurationSeconds: cfg.Pipeline.DefaultDurationSeconds,
		KeepWorkspaces:         cfg.Storage.KeepWorkspaces,
	})

	server, err := kernel.NewServer(logger, jobs, settings, topicSource(logger, cfg), healthChecks(factory, settings, repo))
	if err != nil {
		return fmt.Errorf("failed to init api server: %w", err)
	}

	// Hot-reload: rebuild collaborators and the topic source on every
	// settings change. Running jobs keep the collaborators they started with.
	settings.OnChange(func(cfg *domain.AppConfig) {
		collab, err := factory.Build(cfg)
		if err != nil {
			logger.Error("failed to rebuild collaborators on settings change", "error", err)
			return
		}
		jobs.ApplyConfig(cfg, collab)
		server.SetTopicSource(topicSource(logger, cfg))
		logger.Info("collaborators hot-reloaded from settings change")
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           kernel.WithCORS(server.Handler(), cfg.Server.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Addr, err)
	}
	return serve(ctx, logger, jobs, httpServer, ln)
}

// jobRunner is the part of services.JobService the process loop drives.
type jobRunner interface {
	Run(ctx context.Context) error
	Wait()
}

// serve runs the job scheduler and the API on ln until ctx is done, then
// shuts the API down and waits for running jobs.
func serve(ctx context.Context, logger *slog.Logger, jobs jobRunner, httpServer *http.Server, ln net.Listener) error {
	g, gCtx := errgroup.WithContext(ctx)

	// The scheduler must be running before the first request can arrive.
	if err := jobs.Run(gCtx); err != nil {
		_ = ln.Close()
		return fmt.Errorf("failed to start job scheduler: %w", err)
	}

	g.Go(func() error {
		logger.Info("starting api server", "addr", ln.Addr().String())
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err := g.Wait()

	// Cancelled jobs fail at their next stage boundary and get archived.
	logger.Info("waiting for running jobs to stop")
	jobs.Wait()
	logger.Info("kernel stopped")
	return err
}

// reapLeftovers removes what a previous process left behind: encoder
// containers and job workspaces. Jobs never survive a restart.
func reapLeftovers(ctx context.Context, logger *slog.Logger, factory *providers.Factory, workspace *services.WorkspaceManager, cfg *domain.AppConfig) {
	logger.Info("reaping leftovers from previous run")

	if err := factory.PruneContainers(ctx, cfg); err != nil {
		logger.Warn("failed to prune encoder containers", "error", err)
	}

	n, err := workspace.PruneAll()
	if err != nil {
		logger.Warn("failed to prune workspaces", "error", err)
	}
	if n > 0 {
		logger.Info("pruned stale workspaces", "count", n)
	}
}

// topicSource returns nil when Reddit is unusable; the topics endpoint then
// answers 503.
func topicSource(logger *slog.Logger, cfg *domain.AppConfig) ports.TopicSource {
	src, err := reddit.NewTopicSource(logger, cfg.Reddit)
	if err != nil {
		logger.Warn("reddit topic source disabled", "error", err)
		return nil
	}
	return src
}

func healthChecks(factory *providers.Factory, settings *appconfig.SettingsStore, repo *duckdb.Repository) map[string]kernel.HealthCheck {
	toolCheck := func(path func(domain.EncoderConfig) string) kernel.HealthCheck {
		return func(ctx context.Context) error {
			cfg := settings.GetConfig()
			runner, err := factory.Runner(cfg)
			if err != nil {
				return err
			}
			res, err := runner.Run(ctx, path(factory.EncoderConfig(cfg)), "-version")
			if err != nil {
				return err
			}
			if res.ExitCode != 0 {
				return fmt.Errorf("exit code %d", res.ExitCode)
			}
			return nil
		}
	}

	return map[string]kernel.HealthCheck{
		"ffmpeg":  toolCheck(func(e domain.EncoderConfig) string { return e.FFmpegPath }),
		"ffprobe": toolCheck(func(e domain.EncoderConfig) string { return e.FFprobePath }),
		"archive": repo.Ping,
		"docker": func(ctx context.Context) error {
			runner, err := factory.Runner(settings.GetConfig())
			if err != nil {
				return err
			}
			cr, ok := runner.(*docker.ContainerRunner)
			if !ok {
				return nil // local runtime
			}
			return cr.Ping(ctx)
		},
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
