package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"careverify/internal/platform/config"
	"careverify/internal/platform/db"
	"careverify/internal/platform/httpserver"
	"careverify/internal/platform/logger"
)

func main() {
	var configPath string
	rootCmd := &cobra.Command{
		Use:           "careverify",
		Short:         "Claim lifecycle engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(workerCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	var apiOnly bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, and the background workers unless --api-only is set",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return runServe(cfg, !apiOnly)
		},
	}
	cmd.Flags().BoolVar(&apiOnly, "api-only", false, "serve HTTP only and leave jobs to worker processes (requires Kafka)")
	return cmd
}

func workerCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume jobs from Kafka and run the SLA tracker and schedulers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return runWorker(cfg)
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return errors.New("database.url is not set")
			}
			ctx := cmd.Context()
			conn, err := db.Open(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := db.Migrate(ctx, conn); err != nil {
				return err
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
}

func runServe(cfg *config.Config, withWorkers bool) error {
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !withWorkers && len(cfg.Kafka.Brokers) == 0 {
		return errors.New("--api-only needs kafka.brokers so jobs reach a worker")
	}
	a, err := build(ctx, cfg, log, withWorkers)
	if err != nil {
		return err
	}
	defer a.close()

	srv := httpserver.New(cfg.Server, a.router(), log)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting careverify", "addr", cfg.Server.Addr, "env", cfg.Env, "workers", withWorkers)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	if withWorkers {
		a.runBackground(gctx, g)
	}
	return g.Wait()
}

func runWorker(cfg *config.Config) error {
	if len(cfg.Kafka.Brokers) == 0 {
		return errors.New("worker needs kafka.brokers; use serve for a single process")
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg, log, true)
	if err != nil {
		return err
	}
	defer a.close()

	log.Info("starting careverify worker", "jobs_topic", cfg.Kafka.JobsTopic, "group", cfg.Kafka.ConsumerGroup)
	g, gctx := errgroup.WithContext(ctx)
	a.runBackground(gctx, g)
	return g.Wait()
}
