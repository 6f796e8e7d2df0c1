package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alexdev-tb/prescription-pdf/internal/api"
	"github.com/alexdev-tb/prescription-pdf/internal/auth"
	"github.com/alexdev-tb/prescription-pdf/internal/prescription"
	"github.com/alexdev-tb/prescription-pdf/internal/server"
	"github.com/alexdev-tb/prescription-pdf/internal/site"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(background(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	a.janitor.PurgeOrphans(a.service.ScratchRoot())
	a.janitor.Start(ctx)
	a.runner.StartProbeLoop(ctx, log)
	startPruning(ctx, a.store, log)

	identity := auth.CurrentIdentity()
	verifier, err := auth.NewVerifier(auth.EffectiveCode(cfg.Auth.Code, identity), 0)
	if err != nil {
		return err
	}
	if cfg.Auth.Code == "" {
		log.Info().Str("user", identity.User).Str("host", identity.Hostname).
			Msg("access code derived from host identity; run `rxpdf access-code` to print it")
	}

	siteHandler, err := site.New(cfg.Site.StaticDir, site.Placeholders(prescription.MaxMedicines, prescription.MaxSignatureEncoded))
	if err != nil {
		log.Warn().Err(err).Str("dir", cfg.Site.StaticDir).Msg("static site disabled")
	}

	handler := api.NewHandler(a.service, a.store, a.runner, cfg.HTTP.MaxBodyBytes, log)
	routerCfg := api.RouterConfig{
		Handler:  handler,
		Verifier: verifier,
		Limiter:  api.NewIPRateLimiter(ctx, cfg.RateLimit.RPS, cfg.RateLimit.Burst),
		Log:      log,

		TrustProxy: cfg.HTTP.TrustProxy,
	}
	if siteHandler != nil {
		routerCfg.Site = siteHandler
	}

	log.Info().
		Int("max_concurrent", a.pool.Max()).
		Dur("timeout", cfg.Compiler.Timeout).
		Str("compiler", a.runner.Binary()).
		Str("store", cfg.Store.Driver).
		Msg("starting prescription service")

	srv := server.New(cfg.HTTP, api.NewRouter(routerCfg), log)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, server.ErrServerClosed) {
		return err
	}
	log.Info().Msg("server shutdown gracefully")
	return nil
}

// background returns a context for commands invoked without one.
func background(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
