package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/AvatarCall/internal/adapters/http"
	"github.com/dkeye/AvatarCall/internal/adapters/rtc"
	"github.com/dkeye/AvatarCall/internal/app"
	"github.com/dkeye/AvatarCall/internal/config"
	"github.com/dkeye/AvatarCall/internal/media"
	"github.com/dkeye/AvatarCall/internal/provision"
)

const shutdownTimeout = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	prov := provision.NewClient(provision.Options{
		BaseURL:   cfg.Provision.BaseURL,
		APIKey:    cfg.Provision.APIKey,
		ReplicaID: cfg.Provision.ReplicaID,
		Persona:   cfg.Provision.Persona,
		Timeout:   cfg.Provision.Timeout,
	})
	transport := rtc.New(rtc.Options{
		SignalPath:  cfg.Transport.SignalPath,
		UserName:    cfg.Transport.UserName,
		ICEServers:  cfg.Transport.ICEServers,
		JoinTimeout: cfg.Transport.JoinTimeout,
	})
	hub := media.NewHub()
	ctl := app.NewController(transport, prov,
		app.WithSinkProvider(hub),
		app.WithLeaveTimeout(cfg.Transport.LeaveTimeout),
	)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.SetupRouter(cfg, ctl, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ctl.Run(gctx)
	})
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("AvatarCall server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := ctl.Close(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("controller teardown timed out")
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("exited with error")
		os.Exit(1)
	}
	log.Info().Msg("Server exited gracefully")
}
