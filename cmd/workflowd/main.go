// workflowd serves workflow catalogs to the workflow shelf panel.
//
// Features:
// - Local workflow directory with live change events (SSE)
// - Cloud catalog from a GitHub repository or an S3 bucket, cached in memory or Redis
// - Username/password accounts (SQLite or PostgreSQL) with JWT bearer tokens
// - Member catalog filtered by entitlements
// - Prometheus metrics & structured logging (zap)
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/workflowshelf/workflowshelf/internal/api"
	"github.com/workflowshelf/workflowshelf/internal/auth"
	"github.com/workflowshelf/workflowshelf/internal/cache"
	"github.com/workflowshelf/workflowshelf/internal/config"
	"github.com/workflowshelf/workflowshelf/internal/entitlements"
	"github.com/workflowshelf/workflowshelf/internal/events"
	"github.com/workflowshelf/workflowshelf/internal/logging"
	"github.com/workflowshelf/workflowshelf/internal/metrics"
	"github.com/workflowshelf/workflowshelf/internal/ratelimit"
	"github.com/workflowshelf/workflowshelf/internal/sources"
	"github.com/workflowshelf/workflowshelf/internal/watcher"
	"github.com/workflowshelf/workflowshelf/pkg/models"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("workflowd starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Local workflows
	local, err := sources.NewLocal(cfg.WorkflowDir)
	if err != nil {
		logging.Fatal("local workflow directory", zap.Error(err))
	}

	// Initialize SSE broadcaster
	broadcaster := events.NewBroadcaster()

	if cfg.WatchLocal {
		w := watcher.New(local.Root(), watcher.DefaultDebounce, func(paths []string) {
			for _, p := range paths {
				broadcaster.CatalogChanged(models.SourceLocal, p)
			}
		})
		if err := w.Start(ctx); err != nil {
			logging.Error("local watcher disabled", zap.Error(err))
		} else {
			defer w.Stop()
		}
	}

	// Remote workflows
	remote, closeRemote := openRemote(ctx, cfg)
	defer closeRemote()

	// Initialize auth
	var store *auth.Store
	if cfg.AuthEnabled {
		logging.Info("opening users database...", zap.Bool("postgres", auth.IsPostgresURL(cfg.DatabaseURL)))
		store, err = auth.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logging.Fatal("database connection failed", zap.Error(err))
		}
		defer store.Close()
	}
	authHandler, err := auth.New(store, auth.Config{
		Enabled:        cfg.AuthEnabled,
		Secret:         cfg.JWTSecret,
		TokenTTL:       cfg.TokenTTL,
		TrialDays:      cfg.TrialDays,
		StarterPackage: cfg.StarterPackage,
	})
	if err != nil {
		logging.Fatal("auth init failed", zap.Error(err))
	}

	// Entitlements
	packages, err := entitlements.LoadCatalog(cfg.PackagesFile)
	if err != nil {
		logging.Fatal("packages file", zap.String("path", cfg.PackagesFile), zap.Error(err))
	}
	logging.Info("entitlement packages loaded", zap.Int("packages", len(packages)))

	rateLimiter := ratelimit.New(cfg.AuthRatePerMin)

	// Create API server
	deps := api.Deps{
		Local:        local,
		Auth:         authHandler,
		Entitlements: entitlements.NewEvaluator(packages),
		Broadcaster:  broadcaster,
		Limiter:      rateLimiter,
	}
	if remote != nil {
		deps.Remote = remote
	}
	srv := api.NewServer(deps, api.Options{
		CloudRequiresAuth: cfg.CloudRequiresAuth,
		MemberCatalog:     cfg.MemberCatalog,
	})

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()

		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		httpServer.Shutdown(shutdownCtx)
		metricsServer.Close()
	}()

	// Start periodic cleanup (rate limiter buckets)
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rateLimiter.Cleanup(24 * time.Hour)
			}
		}
	}()

	logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
}

// openRemote builds the cloud source for the configured backend. It returns
// nil when no remote backend is configured.
func openRemote(ctx context.Context, cfg *config.Config) (*sources.Remote, func()) {
	noop := func() {}

	var backend sources.Backend
	switch cfg.RemoteBackend {
	case config.RemoteGitHub:
		gh, err := sources.NewGitHub(sources.GitHubConfig{
			APIURL: cfg.GitHubAPIURL,
			Owner:  cfg.GitHubOwner,
			Repo:   cfg.GitHubRepo,
			Branch: cfg.GitHubBranch,
			Token:  cfg.GitHubToken,
		})
		if err != nil {
			logging.Fatal("github backend init failed", zap.Error(err))
		}
		backend = gh
	case config.RemoteS3:
		s3, err := sources.NewS3(ctx, sources.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
		})
		if err != nil {
			logging.Fatal("s3 backend init failed", zap.Error(err))
		}
		backend = s3
	default:
		logging.Info("no remote backend configured, cloud catalog disabled")
		return nil, noop
	}

	var c cache.Cache
	closeCache := noop
	switch cfg.CacheBackend {
	case config.CacheRedis:
		rc, err := cache.NewRedis(ctx, cache.RedisConfig{
			Address:  cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.CacheTTL,
		})
		if err != nil {
			logging.Fatal("redis cache init failed", zap.Error(err))
		}
		c = rc
		closeCache = func() { rc.Close() }
	default:
		c = cache.NewMemory(cfg.CacheTTL)
	}

	logging.Info("remote catalog configured",
		zap.String("backend", backend.Kind()),
		zap.String("base", cfg.RemoteBasePath),
		zap.String("cache", cfg.CacheBackend))
	return sources.NewRemote(backend, cfg.RemoteBasePath, c), closeCache
}
