package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/alexdev-tb/prescription-pdf/internal/config"
	"github.com/alexdev-tb/prescription-pdf/internal/document"
	"github.com/alexdev-tb/prescription-pdf/internal/executor"
	"github.com/alexdev-tb/prescription-pdf/internal/slots"
	"github.com/alexdev-tb/prescription-pdf/pkg/logger"
)

const (
	storeConnectTimeout = 5 * time.Second
	pruneInterval       = time.Hour
)

// app holds the components shared by serve and render.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	pool     *slots.Pool
	runner   *executor.CompilerRunner
	renderer *document.Renderer
	janitor  *executor.Janitor
	store    executor.OutcomeStore
	service  *executor.Service
	closers  []func() error
}

func loadConfig(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}
	log := logger.New(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Out: cmd.ErrOrStderr()})
	return cfg, log, nil
}

func newApp(ctx context.Context, cfg *config.Config, log zerolog.Logger, store executor.OutcomeStore) (*app, error) {
	a := &app{cfg: cfg, log: log}

	if store == nil {
		var closer func() error
		var err error
		store, closer, err = openStore(ctx, cfg.Store, log)
		if err != nil {
			return nil, err
		}
		if closer != nil {
			a.closers = append(a.closers, closer)
		}
	}
	a.store = store

	a.pool = slots.New(cfg.Compiler.MaxConcurrent)
	a.runner = executor.NewCompilerRunner(executor.RunnerConfig{
		Binary: cfg.Compiler.Binary,
		Args:   cfg.Compiler.Args,
	})
	a.renderer = document.NewRenderer(cfg.Compiler.TemplateDir, "")
	a.janitor = executor.NewJanitor(log)

	service, err := executor.NewService(
		executor.Config{ScratchRoot: cfg.Compiler.ScratchRoot, Timeout: cfg.Compiler.Timeout},
		a.pool, a.runner, a.renderer, a.janitor, a.store, log,
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.service = service

	if err := a.renderer.Check(); err != nil {
		log.Warn().Err(err).Str("dir", cfg.Compiler.TemplateDir).Msg("document template not found; renders will fail")
	}
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn().Err(err).Msg("close resource")
		}
	}
}

func openStore(ctx context.Context, cfg config.Store, log zerolog.Logger) (executor.OutcomeStore, func() error, error) {
	switch cfg.Driver {
	case config.StoreRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, storeConnectTimeout)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		log.Info().Str("addr", cfg.Redis.Addr).Msg("job outcomes stored in redis")
		return executor.NewRedisOutcomeStore(rdb, cfg.Retention), rdb.Close, nil

	case config.StorePostgres:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, storeConnectTimeout)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		store, err := executor.NewPostgresOutcomeStore(pingCtx, db, cfg.Retention)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		log.Info().Msg("job outcomes stored in postgres")
		return store, db.Close, nil

	default:
		return executor.NewMemoryOutcomeStore(0), nil, nil
	}
}

// startPruning removes expired outcomes from stores without native expiry.
func startPruning(ctx context.Context, store executor.OutcomeStore, log zerolog.Logger) {
	pg, ok := store.(*executor.PostgresOutcomeStore)
	if !ok {
		return
	}
	go func() {
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := pg.Prune(ctx)
				if err != nil {
					log.Warn().Err(err).Msg("prune job outcomes")
					continue
				}
				if n > 0 {
					log.Info().Int64("removed", n).Msg("pruned job outcomes")
				}
			}
		}
	}()
}
