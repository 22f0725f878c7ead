// Package service wires the application together: database pool, store,
// launcher, graph runner and engine, built once per process.
package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/tapsucode/stealthfleet/internal/config"
	"github.com/tapsucode/stealthfleet/internal/engine"
	"github.com/tapsucode/stealthfleet/internal/fingerprint"
	"github.com/tapsucode/stealthfleet/internal/graph"
	"github.com/tapsucode/stealthfleet/internal/proxy"
	"github.com/tapsucode/stealthfleet/internal/session"
	"github.com/tapsucode/stealthfleet/internal/store"
)

// Components is the assembled application.
type Components struct {
	Config    *config.Config
	Logger    *zap.Logger
	Pool      *pgxpool.Pool
	Store     *store.Store
	Launcher  *session.Launcher
	Engine    *engine.Engine
	Checker   *proxy.Checker
	Assigner  *proxy.Assigner
	Generator *fingerprint.Generator
}

// Build performs the full dependency wiring. A nil error means every
// component is ready, including a verified database connection.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database DSN is not configured (hint: set STEALTHFLEET_DATABASE_DSN)")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid database DSN: %w", err)
	}
	if cfg.Database.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	}
	if cfg.Database.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.Database.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection pool: %w", err)
	}

	st, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}

	factory := session.NewChromeFactory(cfg.Browser, logger)
	launcher := session.NewLauncher(factory, st, *cfg, logger)
	runner := graph.NewRunner(logger)

	c := &Components{
		Config:    cfg,
		Logger:    logger,
		Pool:      pool,
		Store:     st,
		Launcher:  launcher,
		Engine:    engine.New(st, launcher, runner, *cfg, logger),
		Checker:   proxy.NewChecker(st, cfg.Proxy.CheckURL, cfg.Proxy.CheckTimeout, logger),
		Assigner:  proxy.NewAssigner(st, logger),
		Generator: fingerprint.New(nil),
	}
	logger.Info("Application components assembled",
		zap.Int("max_sessions", cfg.Engine.MaxSessions),
		zap.Int("default_concurrency", cfg.Engine.DefaultConcurrency),
	)
	return c, nil
}

// Shutdown releases held sessions and closes the pool.
func (c *Components) Shutdown(ctx context.Context) {
	if c.Engine != nil {
		if err := c.Engine.ReleaseAll(ctx); err != nil {
			c.Logger.Warn("Failed to release interactive sessions on shutdown", zap.Error(err))
		}
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
}
