package admin

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/codelens/internal/api/handlers"
	"github.com/cloo-solutions/codelens/internal/api/middleware"
	"github.com/cloo-solutions/codelens/internal/jobs"
	"github.com/cloo-solutions/codelens/internal/server"
	"github.com/cloo-solutions/codelens/internal/telemetry"
)

const shutdownTimeout = 30 * time.Second

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the codelens API server and the background index worker",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "", "Port to listen on (overrides CODELENS_PORT)")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")
	cmd.Flags().Bool("no-worker", false, "Do not run the index worker in this process")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmdContext(cmd))
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.HasSentry() {
		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              cfg.SentryDSN,
			Environment:      cfg.Environment,
			TracesSampleRate: cfg.TracesSampleRate(),
			Debug:            cfg.Debug,
		})
		if err != nil {
			log.Printf("telemetry init failed (continuing without tracing): %v", err)
		} else {
			defer shutdownTelemetry()
		}
	}

	if port, _ := cmd.Flags().GetString("port"); port != "" {
		cfg.Port = port
	}
	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	noWorker, _ := cmd.Flags().GetBool("no-worker")

	a, err := newApp(ctx, cfg, appOptions{migrate: !noMigrate})
	if err != nil {
		return err
	}
	defer a.Close()

	routerCfg := server.RouterConfig{
		HealthHandler:   handlers.NewHealthHandler(a.index),
		CodebaseHandler: handlers.NewCodebaseHandler(a.codebases, a.indexing),
		IndexHandler:    handlers.NewIndexHandler(a.jobs, a.indexing),
		SearchHandler:   handlers.NewSearchHandler(a.retrieval, a.assembler),
	}
	if cfg.HasAuth() {
		keys := middleware.NewStaticKeys(cfg.APIKeys)
		routerCfg.AuthValidator = keys
		log.Printf("api key auth enabled (%d keys)", keys.Len())
	} else {
		log.Println("CODELENS_API_KEYS not set; api is unauthenticated")
	}

	var worker *jobs.Worker
	if !noWorker {
		worker = jobs.NewWorker(jobs.NewIndexWorker(a.jobRepo, a.indexing), cfg.WorkerPollInterval)
		a.jobs.OnEnqueue(worker.Notify)
		go worker.Start(ctx)
		log.Println("index worker started")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.NewRouter(routerCfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		log.Println("shutting down...")
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	if worker != nil {
		worker.Stop()
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}
