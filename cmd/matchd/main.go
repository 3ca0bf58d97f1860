package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/park285/Cheese-Match-server/internal/config"
	"github.com/park285/Cheese-Match-server/internal/httpapi"
	"github.com/park285/Cheese-Match-server/internal/identity"
	"github.com/park285/Cheese-Match-server/internal/legality"
	"github.com/park285/Cheese-Match-server/internal/matchmaking"
	"github.com/park285/Cheese-Match-server/internal/msgcat"
	"github.com/park285/Cheese-Match-server/internal/obslog"
	"github.com/park285/Cheese-Match-server/internal/persist"
	"github.com/park285/Cheese-Match-server/internal/relay"
	"github.com/park285/Cheese-Match-server/internal/room"
	"github.com/park285/Cheese-Match-server/internal/session"
	"github.com/park285/Cheese-Match-server/internal/store"
)

const (
	shutdownTimeout = 20 * time.Second
	keyPrefix       = "matchd"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger, err := obslog.Init(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("matchd_exit", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.AppConfig, logger *zap.Logger) error {
	msgs, err := msgcat.New(cfg.MsgcatDir)
	if err != nil {
		return fmt.Errorf("message catalog: %w", err)
	}
	verifier, err := newVerifier(cfg)
	if err != nil {
		return err
	}

	repo, err := openRepository(cfg, logger)
	if err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		if rdb, err = openRedis(cfg.RedisURL); err != nil {
			_ = repo.Close()
			return err
		}
	}

	bus, err := openBus(cfg, rdb)
	if err != nil {
		_ = repo.Close()
		return err
	}
	hub := relay.NewHub(0)
	rel := relay.New(hub, bus, cfg.RelayQueueSize)

	reg := session.NewRegistry(repo, cfg.SessionIdleTTL)
	syncer := persist.New(repo,
		persist.WithConcurrency(cfg.PersistConcurrency),
		persist.WithOnClosed(func(matchID string) { reg.EvictTerminal(matchID) }),
	)

	var rooms room.Store
	if rdb != nil {
		rooms = room.NewRedisStore(rdb, keyPrefix, cfg.RoomRetention)
	} else {
		rooms = room.NewMemoryStore(cfg.RoomRetention)
	}
	lifecycle := room.NewManager(rooms, repo, reg, syncer)

	var opts []session.Option
	if cfg.LegalityCheck {
		opts = append(opts, session.WithValidator(legality.NewChessValidator()))
	}
	coord := session.NewCoordinator(reg, repo, rel, syncer, lifecycle, opts...)
	pool := matchmaking.NewPool(lifecycle, cfg.MatchmakingPendingTTL)

	api := httpapi.New(httpapi.Deps{
		Pool:     pool,
		Rooms:    lifecycle,
		Games:    coord,
		Results:  repo,
		Hub:      hub,
		Verifier: verifier,
		Messages: msgs,
	}, httpapi.WithOriginPatterns(cfg.WSOrigins...))
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rel.Run(gctx) })
	g.Go(func() error {
		reg.RunJanitor(gctx, time.Minute)
		return nil
	})
	g.Go(func() error {
		pool.RunJanitor(gctx, 30*time.Second)
		return nil
	})
	g.Go(func() error {
		select {
		case <-rel.Ready():
		case <-gctx.Done():
			return nil
		}
		logger.Info("matchd_listening",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("relay", cfg.RelayBackend),
			zap.String("auth", cfg.AuthMode),
			zap.Bool("durable", cfg.DatabaseURL != ""),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})

	failed := make(chan error, 1)
	go func() { failed <- g.Wait() }()

	wait := gfshutdown.GracefulShutdown(context.Background(), shutdownTimeout, map[string]gfshutdown.Operation{
		"matchd": func(sctx context.Context) error {
			logger.Info("matchd_shutdown")
			return shutdown(sctx, srv, api, cancel, g, syncer, rel, rdb, repo)
		},
	})

	select {
	case code := <-wait:
		if code != 0 {
			return fmt.Errorf("shutdown exit code %d", code)
		}
		return nil
	case err := <-failed:
		// 시그널 전에 서버가 먼저 죽은 경우
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		if serr := shutdown(sctx, srv, api, cancel, g, syncer, rel, rdb, repo); serr != nil {
			logger.Warn("matchd_shutdown_incomplete", zap.Error(serr))
		}
		return err
	}
}

// shutdown stops intake first (HTTP, then websocket streams), then background loops, then
// drains durable writes before closing connections.
func shutdown(ctx context.Context, srv *http.Server, api *httpapi.Server, cancel context.CancelFunc, g *errgroup.Group,
	syncer *persist.Syncer, rel *relay.Relay, rdb *redis.Client, repo store.Repository) error {
	var errs []error
	if err := srv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http: %w", err))
	}
	if err := api.CloseStreams(ctx); err != nil {
		errs = append(errs, fmt.Errorf("websocket: %w", err))
	}
	cancel()
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}
	if err := syncer.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("persist drain: %w", err))
	}
	if err := rel.Close(); err != nil {
		errs = append(errs, fmt.Errorf("relay: %w", err))
	}
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if err := repo.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	return errors.Join(errs...)
}

func openRepository(cfg *config.AppConfig, logger *zap.Logger) (store.Repository, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("store_in_memory", zap.String("reason", "DATABASE_URL not set"))
		return store.NewMemory(), nil
	}
	if cfg.AutoMigrate {
		if err := store.Migrate(cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return store.OpenPostgres(cfg.DatabaseURL)
}

func openRedis(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func openBus(cfg *config.AppConfig, rdb *redis.Client) (relay.Bus, error) {
	switch cfg.RelayBackend {
	case "redis":
		if rdb == nil {
			return nil, errors.New("redis relay needs REDIS_URL")
		}
		return relay.NewRedisBus(rdb, keyPrefix+":relay"), nil
	case "nats":
		b, err := relay.ConnectNATS(cfg.NATSURL)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, nil
}

func newVerifier(cfg *config.AppConfig) (identity.Verifier, error) {
	switch cfg.AuthMode {
	case "remote":
		return identity.NewRemoteVerifier(cfg.AuthRemoteURL), nil
	case "header":
		return identity.HeaderVerifier{Header: cfg.AuthHeader}, nil
	}
	v, err := identity.NewJWTVerifier(cfg.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("jwt verifier: %w", err)
	}
	return v, nil
}
