package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"certreg/internal/accesscontrol"
	acmetrics "certreg/internal/accesscontrol/metrics"
	"certreg/internal/certificate"
	certmetrics "certreg/internal/certificate/metrics"
	"certreg/internal/journal"
	jwttoken "certreg/internal/jwt_token"
	"certreg/internal/platform/config"
	"certreg/internal/platform/httpserver"
	"certreg/internal/platform/logger"
	"certreg/internal/platform/metrics"
	"certreg/internal/platform/postgres"
	"certreg/internal/platform/redis"
	"certreg/internal/registry"
	"certreg/internal/registry/handler"
	regmetrics "certreg/internal/registry/metrics"
	"certreg/internal/verification"
	"certreg/pkg/platform/audit/publisher"
	kafkastore "certreg/pkg/platform/audit/store/kafka"
	logstore "certreg/pkg/platform/audit/store/logger"
	authmw "certreg/pkg/platform/middleware/auth"
	"certreg/pkg/platform/middleware/metadata"
	"certreg/pkg/platform/middleware/request"
	"certreg/pkg/platform/middleware/requesttime"
)

const auditBufferSize = 1024

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Replay the journal and serve the registry over HTTP",
		Long: `Start the registry HTTP server.

The server will:
  - Load configuration from file, environment variables, and command-line flags
  - Replay the journal to rebuild approvals and certificates
  - Serve the registry API, /health and the Prometheus endpoint`,
		RunE: runServe,
	}

	d := config.Defaults()
	cmd.Flags().String("server.addr", d.Server.Addr, "HTTP listen address")
	cmd.Flags().String("registry.admin", d.Registry.Admin, "administrator address")
	cmd.Flags().Bool("registry.revocation_invalidates", d.Registry.RevocationInvalidates, "report certificates of revoked organizations as invalid")
	cmd.Flags().String("journal.driver", d.Journal.Driver, "journal backend: memory, postgres or redis")
	cmd.Flags().String("postgres.dsn", d.Postgres.DSN, "PostgreSQL DSN for the postgres journal")
	cmd.Flags().String("redis.url", d.Redis.URL, "Redis URL for the redis journal")
	cmd.Flags().String("audit.sink", d.Audit.Sink, "audit sink: log, kafka or none")
	cmd.Flags().String("audit.brokers", d.Audit.Brokers, "comma separated Kafka brokers for the kafka sink")
	cmd.Flags().String("log.level", d.Log.Level, "log level: debug, info, warn or error")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath(), cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	store, closeStore, err := openJournalStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	auditPublisher, closeAudit, err := openAuditPublisher(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeAudit()

	reg, err := buildRegistry(cfg, log, journal.New(store, journal.WithLogger(log)), auditPublisher, promRegistry)
	if err != nil {
		return err
	}
	if err := reg.Bootstrap(ctx); err != nil {
		return fmt.Errorf("failed to replay journal: %w", err)
	}

	srv := httpserver.New(cfg.Server, newRouter(cfg, log, reg, promRegistry))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.InfoContext(gctx, "certreg listening",
			"addr", cfg.Server.Addr,
			"journal", cfg.Journal.Driver,
			"audit_sink", cfg.Audit.Sink,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.InfoContext(shutdownCtx, "shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func buildRegistry(cfg *config.Config, log *slog.Logger, j *journal.Journal, auditPublisher *publisher.Publisher, promRegistry prometheus.Registerer) (*registry.Registry, error) {
	admin, err := cfg.AdminIdentity()
	if err != nil {
		return nil, err
	}

	accessOpts := []accesscontrol.Option{
		accesscontrol.WithJournal(j),
		accesscontrol.WithLogger(log),
		accesscontrol.WithMetrics(acmetrics.New(promRegistry)),
	}
	ledgerOpts := []certificate.Option{
		certificate.WithJournal(j),
		certificate.WithLogger(log),
		certificate.WithMetrics(certmetrics.New(promRegistry)),
	}
	registryOpts := []registry.Option{
		registry.WithJournal(j),
		registry.WithLogger(log),
		registry.WithMetrics(regmetrics.New(promRegistry)),
	}
	if auditPublisher != nil {
		accessOpts = append(accessOpts, accesscontrol.WithAuditPublisher(auditPublisher))
		ledgerOpts = append(ledgerOpts, certificate.WithAuditPublisher(auditPublisher))
		registryOpts = append(registryOpts, registry.WithAuditPublisher(auditPublisher))
	}

	access, err := accesscontrol.New(admin, accessOpts...)
	if err != nil {
		return nil, err
	}
	ledger := certificate.NewLedger(access, ledgerOpts...)

	var verifyOpts []verification.Option
	if cfg.Registry.RevocationInvalidates {
		verifyOpts = append(verifyOpts, verification.WithRevocationInvalidates(access))
	}
	return registry.New(access, ledger, verification.New(ledger, verifyOpts...), registryOpts...), nil
}

func newRouter(cfg *config.Config, log *slog.Logger, reg *registry.Registry, promRegistry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(request.Recovery(log))
	r.Use(request.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(request.Logger(log))
	if cfg.Metrics.Enabled {
		r.Use(request.Latency(metrics.New(promRegistry)))
		r.Handle(cfg.Metrics.Path, promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	}

	tokens := jwttoken.NewJWTService(cfg.Auth.SigningKey, cfg.Auth.Issuer).Bearer()
	handler.New(reg, log, cfg.Registry.MaxBatchSize).Register(r, authmw.RequireCaller(tokens, log))
	return r
}

// openJournalStore connects the configured journal backend. The returned
// close function is always safe to call.
func openJournalStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (journal.Store, func(), error) {
	switch cfg.Journal.Driver {
	case config.JournalPostgres:
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		store := journal.NewPostgresStore(db, cfg.Postgres.Schema)
		if err := store.EnsureSchema(ctx, cfg.Postgres.Schema); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return store, func() { _ = db.Close() }, nil

	case config.JournalRedis:
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return journal.NewRedisStore(client, cfg.Redis.Key), func() { _ = client.Close() }, nil

	default:
		log.WarnContext(ctx, "using the in-memory journal; registry state is lost on restart")
		return journal.NewMemoryStore(), func() {}, nil
	}
}

// openAuditPublisher builds the configured audit sink. The "none" sink
// yields a nil publisher.
func openAuditPublisher(ctx context.Context, cfg *config.Config, log *slog.Logger) (*publisher.Publisher, func(), error) {
	switch cfg.Audit.Sink {
	case config.AuditSinkNone:
		return nil, func() {}, nil

	case config.AuditSinkKafka:
		store, err := kafkastore.New(kafkastore.Config{
			Brokers:           cfg.Audit.BrokerList(),
			Topic:             cfg.Audit.Topic,
			Partitions:        cfg.Audit.Partitions,
			ReplicationFactor: cfg.Audit.ReplicationFactor,
			FailureThreshold:  cfg.Audit.FailureThreshold,
			Cooldown:          cfg.Audit.Cooldown,
		}, kafkastore.WithLogger(log))
		if err != nil {
			return nil, nil, err
		}
		if err := store.EnsureTopic(ctx); err != nil {
			// Produce attempts are circuit-broken, so a missing broker at
			// start-up degrades auditing without blocking the registry.
			log.WarnContext(ctx, "audit topic bootstrap failed", "topic", cfg.Audit.Topic, "error", err)
		}
		pub := publisher.NewPublisher(store, publisher.WithAsyncBuffer(auditBufferSize), publisher.WithLogger(log))
		return pub, func() {
			_ = pub.Close()
			store.Close()
		}, nil

	default:
		pub := publisher.NewPublisher(logstore.New(log), publisher.WithAsyncBuffer(auditBufferSize), publisher.WithLogger(log))
		return pub, func() { _ = pub.Close() }, nil
	}
}
