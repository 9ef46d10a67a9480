package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpHandler "github.com/anthanhphan/go-media-gallery/internal/gallery/adapter/inbound/http"
	"github.com/anthanhphan/go-media-gallery/internal/gallery/adapter/outbound/github"
	"github.com/anthanhphan/go-media-gallery/internal/gallery/adapter/outbound/listcache"
	"github.com/anthanhphan/go-media-gallery/internal/gallery/adapter/outbound/localstore"
	"github.com/anthanhphan/go-media-gallery/internal/gallery/config"
	"github.com/anthanhphan/go-media-gallery/internal/gallery/port"
	"github.com/anthanhphan/go-media-gallery/internal/gallery/service"
	"github.com/anthanhphan/go-media-gallery/pkg/idgen"
	"github.com/anthanhphan/gosdk/logger"
	"github.com/redis/go-redis/v9"
)

type App struct {
	cfg     *config.Config
	server  *httpHandler.Server
	service *service.GalleryServiceImpl
	store   *localstore.Store // nil for the remote backend
	redis   *redis.Client     // nil when Redis is not configured
}

func New(configPath string) (*App, error) {
	// 1. Load Config
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 2. Initialize Logger
	logger.InitLogger(&cfg.Logger)

	a := &App{cfg: cfg}

	// 3. Redis is optional: it backs the listing cache and the name clock.
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	// 4. Backend
	backend, err := a.newBackend()
	if err != nil {
		a.closeResources()
		return nil, err
	}

	var fingerprint port.Fingerprinter
	if a.store != nil {
		fingerprint = a.store
	}

	if a.redis != nil && cfg.Redis.ListCacheTTLMS > 0 {
		ttl := time.Duration(cfg.Redis.ListCacheTTLMS) * time.Millisecond
		backend = listcache.New(backend, a.redis, ttl)
		logger.Infow("Listing cache enabled", "redis_addr", cfg.Redis.Addr, "ttl", ttl.String())
	}

	// 5. Service & HTTP Server
	a.service = service.NewGalleryService(backend, cfg.App)
	a.server = httpHandler.NewServer(cfg, a.service, fingerprint)

	return a, nil
}

func (a *App) newBackend() (port.Backend, error) {
	switch a.cfg.App.Backend {
	case config.BackendGitHub:
		var clock idgen.Clock = &idgen.SystemClock{}
		if a.redis != nil {
			clock = idgen.NewRedisClock(a.redis)
		}
		idGen, err := idgen.New(a.cfg.App.NodeID, clock)
		if err != nil {
			return nil, fmt.Errorf("failed to init snowflake: %w", err)
		}
		if a.cfg.GitHub.Token == "" {
			logger.Warnw("No GitHub token configured, uploads and deletes will be rejected")
		}
		logger.Infow("Using GitHub backend", "owner", a.cfg.GitHub.Owner, "repo", a.cfg.GitHub.Repo, "path", a.cfg.GitHub.Path, "branch", a.cfg.GitHub.Branch)
		return github.New(a.cfg.GitHub, idGen), nil

	case config.BackendLocal:
		store, err := localstore.Open(a.cfg.Local)
		if err != nil {
			return nil, fmt.Errorf("failed to open local store: %w", err)
		}
		a.store = store
		return store, nil

	default:
		return nil, fmt.Errorf("unknown backend %q (want %q or %q)", a.cfg.App.Backend, config.BackendGitHub, config.BackendLocal)
	}
}

func (a *App) Run() error {
	// Initial listing, like a fresh page load.
	a.service.Reload(context.Background())

	logger.Infow("Gallery starting", "addr", a.cfg.Server.Addr, "backend", a.cfg.App.Backend)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			serverErrCh <- err
		}
	}()

	// Wait for shutdown signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	var runErr error
	select {
	case sig := <-stop:
		logger.Infow("Shutdown signal received", "signal", sig.String())
	case err := <-serverErrCh:
		runErr = fmt.Errorf("http server failed: %w", err)
		logger.Errorw("Gallery server exited unexpectedly", "error", err.Error())
	}

	logger.Info("Shutting down gallery")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.server.Stop(ctx); err != nil {
		logger.Errorw("Gallery shutdown error", "error", err.Error())
		if runErr == nil {
			runErr = err
		}
	}
	a.closeResources()

	return runErr
}

func (a *App) closeResources() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Errorw("Failed to close local store", "error", err.Error())
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}
