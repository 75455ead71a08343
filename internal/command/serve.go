package command

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"myriad/api/internal/app"
	"myriad/api/internal/config"
	"myriad/api/internal/credential"
	"myriad/api/internal/engagement"
	"myriad/api/internal/scheduler"
	"myriad/api/internal/store"
)

func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			noScheduler, _ := cmd.Flags().GetBool("no-scheduler")
			return serve(cmd.Context(), config.Load(), !noScheduler)
		},
	}
	cmd.Flags().Bool("no-scheduler", false, "serve the API without running periodic jobs")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, withScheduler bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := store.ApplyMigrations(ctx, rt.db); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	if rt.meili != nil {
		go rt.search.ReindexAllFromPG(context.Background())
	}

	deps := app.Deps{
		Store:       rt.store,
		Credentials: credential.NewService(rt.store, rt.metrics),
		Engagement:  engagement.NewService(rt.store, rt.metrics),
		Crawler:     rt.engine,
		Search:      rt.search,
	}
	if rt.rates != nil {
		deps.Rates = rt.rates
	}
	if rt.cursors != nil {
		deps.Cache = rt.cursors
	}
	service := app.New(cfg, deps)

	var jobs *scheduler.Scheduler
	if withScheduler {
		jobs, err = newScheduler(rt)
		if err != nil {
			return err
		}
		if err := jobs.Start(); err != nil {
			return err
		}
		if rt.rates != nil {
			go func() { _ = jobs.RunNow(context.Background(), jobExchangeRates) }()
		}
	}

	metricsHandler := promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{})
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, metricsHandler)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("Myriad API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Printf("received %s, shutting down", sig)
	case err, ok := <-serverErr:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if jobs != nil {
		if err := jobs.Stop(shutdownCtx); err != nil {
			log.Printf("scheduler shutdown error: %v", err)
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	return nil
}
