// Command clinic-api serves the clinic HTTP API and carries the
// operational subcommands for its database and topics.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drfirst/go-clinic/internal/api/handlers"
	"github.com/drfirst/go-clinic/internal/api/realtime"
	"github.com/drfirst/go-clinic/internal/config"
	"github.com/drfirst/go-clinic/internal/domain/catalog"
	"github.com/drfirst/go-clinic/internal/domain/consent"
	"github.com/drfirst/go-clinic/internal/domain/consultation"
	"github.com/drfirst/go-clinic/internal/domain/labreport"
	"github.com/drfirst/go-clinic/internal/domain/prescription"
	"github.com/drfirst/go-clinic/internal/events"
	"github.com/drfirst/go-clinic/internal/infrastructure/postgres"
	"github.com/drfirst/go-clinic/internal/infrastructure/redpanda"
	"github.com/drfirst/go-clinic/internal/observability/logging"
	"github.com/drfirst/go-clinic/internal/observability/metrics"
	"github.com/drfirst/go-clinic/internal/observability/tracing"
	"github.com/drfirst/go-clinic/pkg/idempotency"
)

const serviceName = "clinic-api"

func main() {
	rootCmd := &cobra.Command{
		Use:          serviceName,
		Short:        "Clinic consultation, prescription and consent API",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(topicsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServer(cfg)
		},
	}
}

func runServer(cfg *config.Config) error {
	logger := logging.Must(cfg.LogLevel, cfg.Env)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(ctx, tracing.Config{
		Enabled:        cfg.TracingEnabled,
		ServiceName:    serviceName,
		ServiceVersion: "1.0.0",
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     cfg.TraceSampleRate,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info("connected to database")

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	store := idempotency.NewPGStore(pool, logger)
	inbox := idempotency.NewInbox(store, idempotency.DefaultInboxConfig(), logger)
	go store.RunCleanup(ctx, idempotency.DefaultInboxConfig().CleanupInterval)

	consentRepo := consent.NewRepoPG(pool)
	rxSvc := prescription.NewService(prescription.NewPGRepository(pool, logger), logger)
	consentSvc := consent.NewService(consentRepo, logger)
	consultSvc := consultation.NewService(consultation.NewRepoPG(pool), rxSvc, consentSvc, inbox, logger)

	bus := events.NewBus()
	hub := realtime.NewHub(m.RealtimeClients, logger, events.TopicRxSigned)
	detach := hub.Attach(bus)
	defer detach()

	router := handlers.NewRouter(handlers.Deps{
		ServiceName:   serviceName,
		Prescriptions: rxSvc,
		Consents:      consentSvc,
		Consultations: consultSvc,
		Catalog:       catalog.NewService(catalog.NewRepoPG(pool)),
		LabReports:    labreport.NewService(labreport.NewRepoPG(pool), logger),
		Bus:           bus,
		Hub:           hub,
		Metrics:       m,
		SessionSecret: []byte(cfg.SessionSecret),
		CORSOrigin:    cfg.CORSOrigin,
		Currency:      cfg.Currency,
		Ready:         pool.Ping,
		Logger:        logger,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting clinic API", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *postgres.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *postgres.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				for _, s := range statuses {
					status, at := "pending", ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							at = s.AppliedAt.Format(time.RFC3339)
						}
					}
					fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, at)
				}
				return nil
			})
		},
	}

	for _, c := range []*cobra.Command{upCmd, statusCmd} {
		c.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
		cmd.AddCommand(c)
	}
	return cmd
}

func withMigrator(cmd *cobra.Command, fn func(ctx context.Context, m *postgres.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	dir, _ := cmd.Flags().GetString("dir")
	if dir == "" {
		dir = cfg.MigrationsDir
	}

	logger := logging.Must(cfg.LogLevel, cfg.Env)
	defer logger.Sync()

	ctx := cmd.Context()
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, postgres.NewMigrator(pool, dir, logger))
}

func topicsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topics",
		Short: "Manage Redpanda topics",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "ensure",
		Short: "Create the clinic topics if they are missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd, func(ctx context.Context, a *redpanda.Admin) error {
				if err := a.EnsureTopics(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Topics ready.")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List topics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd, func(ctx context.Context, a *redpanda.Admin) error {
				topics, err := a.ListTopics(ctx)
				if err != nil {
					return err
				}
				for _, t := range topics {
					fmt.Fprintln(cmd.OutOrStdout(), t)
				}
				return nil
			})
		},
	})

	lagCmd := &cobra.Command{
		Use:   "lag",
		Short: "Show consumer group lag per topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			group, _ := cmd.Flags().GetString("group")
			return withAdmin(cmd, func(ctx context.Context, a *redpanda.Admin) error {
				lag, err := a.ConsumerGroupLag(ctx, group)
				if err != nil {
					return err
				}
				topics := make([]string, 0, len(lag))
				for t := range lag {
					topics = append(topics, t)
				}
				sort.Strings(topics)
				for _, t := range topics {
					fmt.Fprintf(cmd.OutOrStdout(), "%-40s %d\n", t, lag[t])
				}
				return nil
			})
		},
	}
	lagCmd.Flags().String("group", redpanda.DefaultConsumerConfig().GroupID, "Consumer group")
	cmd.AddCommand(lagCmd)

	return cmd
}

func withAdmin(cmd *cobra.Command, fn func(ctx context.Context, a *redpanda.Admin) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.Must(cfg.LogLevel, cfg.Env)
	defer logger.Sync()

	admin, err := redpanda.NewAdmin(cfg.KafkaBrokers, logger)
	if err != nil {
		return err
	}
	defer admin.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	return fn(ctx, admin)
}
