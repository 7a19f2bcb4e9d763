package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/khachaneojas/service-scheduler/internal/analytics"
	"github.com/khachaneojas/service-scheduler/internal/api"
	"github.com/khachaneojas/service-scheduler/internal/certificate"
	"github.com/khachaneojas/service-scheduler/internal/circuitbreaker"
	"github.com/khachaneojas/service-scheduler/internal/config"
	"github.com/khachaneojas/service-scheduler/internal/cron"
	"github.com/khachaneojas/service-scheduler/internal/dispatcher"
	"github.com/khachaneojas/service-scheduler/internal/domain"
	"github.com/khachaneojas/service-scheduler/internal/eligibility"
	"github.com/khachaneojas/service-scheduler/internal/executor"
	"github.com/khachaneojas/service-scheduler/internal/instance"
	"github.com/khachaneojas/service-scheduler/internal/lifecycle"
	"github.com/khachaneojas/service-scheduler/internal/mailer"
	"github.com/khachaneojas/service-scheduler/internal/metrics"
	"github.com/khachaneojas/service-scheduler/internal/reconciler"
	"github.com/khachaneojas/service-scheduler/internal/remote"
	"github.com/khachaneojas/service-scheduler/internal/scheduler"
	"github.com/khachaneojas/service-scheduler/internal/store/postgres"
	"github.com/khachaneojas/service-scheduler/internal/transport/channel"
	"github.com/khachaneojas/service-scheduler/internal/transport/redisstream"
	"github.com/khachaneojas/service-scheduler/internal/website"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

// transport is the broker seen by both the dispatcher and the consumers.
type transport interface {
	dispatcher.Publisher
	executor.Subscriber
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`scheduler - certification platform job scheduler

Usage:
  scheduler <command>

Commands:
  serve      Start the sweep, the consumers and the HTTP API
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL              PostgreSQL connection string (required)
  WEBSITE_DATABASE_URL      Public website database (optional)
  HTTP_ADDR                 HTTP server address (default: ":8080", or ":$PORT")
  API_TOKEN                 Bearer token for the job endpoints (optional)

  TRANSPORT                 "channel" (in-process) or "redis" (default: "channel")
  REDIS_ADDR                Redis address for streams and analytics
  REDIS_GROUP               Consumer group name (default: "scheduler")
  REDIS_CLAIM_IDLE          Idle time before a pending entry is reclaimed (default: "10m")
  EVENTBUS_BUFFER_SIZE      In-process queue depth per channel (default: "100")
  CONSUMER_WORKERS          Concurrent consumers per channel (default: "1")
  AMQP_EXCHANGE             Exchange name used in routes (default: "scheduler")
  QUEUE_<CHANNEL>           Queue override, e.g. QUEUE_MAILER
  ROUTING_KEY_<CHANNEL>     Routing key override, e.g. ROUTING_KEY_STANDARD

  SWEEP_SCHEDULE            Sweep trigger (default: "@every 90s")
  SWEEP_INITIAL_DELAY       Delay before the first sweep (default: "60s")
  RETRY_DELAY_MS            Minimum gap between retries (default: "300000")
  RETRY_LIMIT               Attempts before a job is failed (default: "3")
  HEARTBEAT_INTERVAL        Instance heartbeat interval (default: "10s")

  SMTP_HOST                 SMTP relay host
  SMTP_PORT                 SMTP relay port (default: "587")
  SMTP_USERNAME             SMTP user
  SMTP_PASSWORD             SMTP password
  MAIL_FROM                 Sender address (required with SMTP_HOST)
  MAIL_CONCURRENCY          Parallel sends per batch (default: "4")
  MAIL_RATE_PER_SECOND      Send rate limit, 0 disables (default: "0")

  STUDENT_SERVICE_URL       Student service base URL
  EXAM_SERVICE_URL          Examination service base URL
  SERVICE_SECRET            Shared secret for signed service calls
  REMOTE_TIMEOUT            Service call timeout (default: "30s")
  DOWNLOAD_LINK_BASE        Certificate download link prefix

  DB_OP_TIMEOUT             Startup database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME     Max connection idle time (default: "5m")

  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")
  CONSUMER_DRAIN_TIMEOUT    Wait for in-flight jobs on shutdown (default: "30s")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")
  ANALYTICS_RETENTION       Daily counter retention (default: "720h")

  RECONCILE_ENABLED         Report RUNNING jobs that look lost (default: "true")
  RECONCILE_INTERVAL        How often to scan (default: "5m")
  RECONCILE_THRESHOLD       Age before a RUNNING job is reported (default: "30m")
  RECONCILE_BATCH_SIZE      Max jobs per scan (default: "100")

  CIRCUIT_BREAKER_THRESHOLD Consecutive failures before opening, 0 disables (default: "5")
  CIRCUIT_BREAKER_COOLDOWN  Time before a trial request is let through (default: "2m")`)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	logConfigWarnings(&cfg)

	db, err := postgres.Open(cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		return exitRuntimeError
	}
	defer db.Close()

	configurePool(db, cfg)
	log.Printf("scheduler: db pool configured (max_open=%d, max_idle=%d, max_lifetime=%s, max_idle_time=%s)",
		cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)

	store := postgres.New(db)
	if err := prepareStore(store, cfg.DBOpTimeout); err != nil {
		fmt.Fprintf(os.Stderr, "failed to prepare database: %v\n", err)
		return exitRuntimeError
	}

	var sink metrics.Sink = metrics.NewNoopSink()
	if cfg.MetricsEnabled {
		sink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("scheduler: metrics enabled (path=%s)", cfg.MetricsPath)
	} else {
		log.Println("scheduler: METRICS_ENABLED not set; metrics disabled")
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
	}

	routes := dispatcher.NewRoutes(cfg.Exchange, cfg.Bindings)

	broker, err := newTransport(cfg, rdb, routes, sink)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up transport: %v\n", err)
		return exitRuntimeError
	}

	hostname, _ := os.Hostname()
	identity := instance.NewResolver().Identity()
	heart := instance.NewHeart(store, identity, hostname, cfg.HeartbeatInterval)
	if err := registerInstance(heart, cfg.DBOpTimeout); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register instance: %v\n", err)
		return exitRuntimeError
	}
	log.Printf("scheduler: instance identity=%s host=%s", identity, hostname)

	schedule, err := cron.NewParser().Parse(cfg.SweepSchedule, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid sweep schedule: %v\n", err)
		return exitInvalidConfig
	}

	disp := dispatcher.New(store, broker, routes, identity).WithMetrics(sink)
	sched := scheduler.New(
		scheduler.Config{
			Policy:       scheduler.Policy{RetryDelay: cfg.RetryDelay, RetryLimit: cfg.RetryLimit},
			InitialDelay: cfg.SweepInitialDelay,
		},
		store,
		disp,
		schedule,
	).WithMetrics(sink)

	registry, closeWebsite, err := buildRegistry(cfg, store, sink)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build handlers: %v\n", err)
		return exitRuntimeError
	}
	defer closeWebsite()

	exec := executor.New(store, store, registry).WithMetrics(sink)
	if rdb != nil {
		exec = exec.WithAnalytics(analytics.NewRedisSink(rdb).WithRetention(cfg.AnalyticsRetention))
		log.Printf("scheduler: analytics enabled (redis=%s, retention=%s)", cfg.RedisAddr, cfg.AnalyticsRetention)
	} else {
		log.Println("scheduler: REDIS_ADDR not set; analytics disabled")
	}
	consumer := executor.NewConsumer(broker, exec, routes.All(), cfg.ConsumerWorkers, identity)

	apiHandler := api.NewHandler(store).WithHealthChecker(store).WithToken(cfg.APIToken)
	mux := http.NewServeMux()
	if cfg.MetricsEnabled {
		mux.Handle(cfg.MetricsPath, promhttp.Handler())
	}
	mux.Handle("/", apiHandler)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("scheduler: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("scheduler: http server error: %v", err)
		}
	}()

	// Separate contexts so shutdown runs in order.
	schedulerCtx, cancelScheduler := context.WithCancel(context.Background())
	consumerCtx, cancelConsumer := context.WithCancel(context.Background())
	heartCtx, cancelHeart := context.WithCancel(context.Background())

	var schedulerWg sync.WaitGroup
	var reconcilerWg sync.WaitGroup
	var heartWg sync.WaitGroup
	var cancelReconciler context.CancelFunc

	schedulerWg.Add(1)
	go func() {
		defer schedulerWg.Done()
		if err := sched.Run(schedulerCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("scheduler: sweep loop error: %v", err)
		}
	}()

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := consumer.Run(consumerCtx); err != nil {
			log.Printf("scheduler: consumer error: %v", err)
		}
	}()

	heartWg.Add(1)
	go func() {
		defer heartWg.Done()
		heart.Run(heartCtx)
	}()

	if cfg.ReconcileEnabled {
		var reconcilerCtx context.Context
		reconcilerCtx, cancelReconciler = context.WithCancel(context.Background())
		recon := reconciler.New(
			reconciler.Config{
				Interval:  cfg.ReconcileInterval,
				Threshold: cfg.ReconcileThreshold,
				BatchSize: cfg.ReconcileBatchSize,
			},
			store,
		).WithMetrics(sink)
		reconcilerWg.Add(1)
		go func() {
			defer reconcilerWg.Done()
			recon.Run(reconcilerCtx)
		}()
		log.Printf("scheduler: reconciler enabled (interval=%s, threshold=%s, batch=%d)",
			cfg.ReconcileInterval, cfg.ReconcileThreshold, cfg.ReconcileBatchSize)
	} else {
		log.Println("scheduler: RECONCILE_ENABLED=false; reconciler disabled")
	}

	log.Printf("scheduler: started (sweep=%q, transport=%s, http=%s)", cfg.SweepSchedule, cfg.Transport, cfg.HTTPAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("scheduler: received signal %v, shutting down", received)

	// Phase 1: Stop the sweep (no new jobs enqueued)
	log.Println("scheduler: stopping sweep...")
	cancelScheduler()
	schedulerWg.Wait()
	log.Println("scheduler: sweep stopped")

	// Phase 2: Stop reconciler
	if cancelReconciler != nil {
		log.Println("scheduler: stopping reconciler...")
		cancelReconciler()
		reconcilerWg.Wait()
		log.Println("scheduler: reconciler stopped")
	}

	// Phase 3: Stop consumers, waiting for in-flight jobs up to the drain timeout
	log.Println("scheduler: stopping consumers (draining in-flight jobs)...")
	cancelConsumer()
	select {
	case <-consumerDone:
		log.Println("scheduler: consumers stopped")
	case <-time.After(cfg.ConsumerDrainTimeout):
		log.Printf("scheduler: consumers still busy after %s, continuing shutdown", cfg.ConsumerDrainTimeout)
	}

	// Phase 4: Stop HTTP server with graceful shutdown
	log.Println("scheduler: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("scheduler: http server shutdown error: %v", err)
	}
	log.Println("scheduler: http server stopped")

	// Phase 5: Stop heartbeat last so the instance row stays fresh while draining
	cancelHeart()
	heartWg.Wait()

	log.Println("scheduler: stopped")
	return exitSuccess
}

func configurePool(db *sql.DB, cfg config.Config) {
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)
}

// prepareStore pings the primary database, applies migrations and seeds the
// recurring jobs that are missing.
func prepareStore(store *postgres.Store, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	n, err := scheduler.SeedDefaults(ctx, store, time.Now())
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	if n > 0 {
		log.Printf("scheduler: seeded %d default jobs", n)
	}
	return nil
}

func registerInstance(heart *instance.Heart, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return heart.Register(ctx)
}

func newTransport(cfg config.Config, rdb *redis.Client, routes dispatcher.Routes, sink metrics.Sink) (transport, error) {
	if cfg.Transport != "redis" {
		log.Printf("scheduler: in-process transport (buffer=%d per channel)", cfg.EventBusBufferSize)
		return channel.NewBus(cfg.EventBusBufferSize, channel.WithMetrics(sink)), nil
	}

	broker := redisstream.New(rdb, redisstream.Config{
		Group:     cfg.RedisGroup,
		ClaimIdle: cfg.RedisClaimIdle,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DBOpTimeout)
	defer cancel()
	if err := broker.Ping(ctx); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	if err := broker.EnsureGroups(ctx, routes.All()); err != nil {
		return nil, err
	}
	log.Printf("scheduler: redis stream transport (addr=%s, group=%s)", cfg.RedisAddr, cfg.RedisGroup)
	return broker, nil
}

func newBreaker(cfg config.Config) *circuitbreaker.CircuitBreaker {
	if cfg.CircuitBreakerThreshold <= 0 {
		return nil
	}
	return circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
}

// buildRegistry binds every job type to its handler. The returned func
// closes the website database when one was opened.
func buildRegistry(cfg config.Config, store *postgres.Store, sink metrics.Sink) (*executor.Registry, func(), error) {
	registry := executor.NewRegistry()
	closeWebsite := func() {}

	smtp := mailer.NewSMTPTransport(mailer.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
	})
	if cb := newBreaker(cfg); cb != nil {
		smtp = smtp.WithCircuitBreaker(cb)
	}
	mail := mailer.New(smtp, store, cfg.MailConcurrency).WithMetrics(sink)
	if cfg.MailRatePerSecond > 0 {
		mail = mail.WithRateLimit(cfg.MailRatePerSecond, cfg.MailConcurrency)
	}
	registry.Register(domain.JobTypeEmail, mail.Handler())

	releaser := certificate.NewReleaser(store, store, cfg.DownloadLinkBase)
	registry.Register(domain.JobTypeReleaseCertificates, releaser.Handler())

	eligibility.NewMarker(store).Register(registry)
	lifecycle.New(store, mail).Register(registry)

	client := remote.NewClient(cfg.ServiceSecret).
		WithTimeout(cfg.RemoteTimeout).
		WithMetrics(sink)
	if cb := newBreaker(cfg); cb != nil {
		client = client.WithCircuitBreaker(cb)
	}
	remote.NewStandard(client, remote.Endpoints{
		Student:     cfg.StudentServiceURL,
		Examination: cfg.ExamServiceURL,
	}, store).Register(registry)

	if cfg.WebsiteDatabaseURL != "" {
		wdb, err := website.Open(cfg.WebsiteDatabaseURL)
		if err != nil {
			return nil, closeWebsite, err
		}
		configurePool(wdb, cfg)
		closeWebsite = func() { wdb.Close() }
		syncer := website.NewSyncer(store, website.NewStore(wdb))
		registry.Register(domain.JobTypeWebsiteDataTransfer, syncer.Handler())
	} else {
		log.Println("scheduler: WEBSITE_DATABASE_URL not set; WEBSITE_DATA_TRANSFER jobs will fail")
	}

	log.Printf("scheduler: %d job types registered", len(registry.Types()))
	return registry, closeWebsite, nil
}

// logConfigWarnings reports configurations that run but lose guarantees.
func logConfigWarnings(cfg *config.Config) {
	if cfg.Transport == "channel" {
		log.Println("INFO: TRANSPORT=channel. Published jobs live in process memory; " +
			"jobs in flight at a crash stay RUNNING until an operator resets them.")
		if !cfg.ReconcileEnabled {
			log.Println("WARNING [P0]: TRANSPORT=channel with RECONCILE_ENABLED=false. " +
				"Jobs lost between persist and publish will not be reported.")
		}
	}

	if !cfg.ReconcileEnabled {
		log.Println("WARNING [P0]: RECONCILE_ENABLED=false. " +
			"Stale RUNNING jobs will not be reported.")
	}

	if !cfg.MetricsEnabled {
		log.Println("WARNING [P1]: METRICS_ENABLED=false. " +
			"No sweep, execution or mail metrics will be exported.")
	}

	if cfg.SMTPHost == "" {
		log.Println("WARNING [P1]: SMTP_HOST not set. EMAIL jobs will fail to send.")
	}

	if cfg.ServiceSecret == "" && (cfg.StudentServiceURL != "" || cfg.ExamServiceURL != "") {
		log.Println("WARNING [P1]: SERVICE_SECRET not set. Calls to sibling services are unsigned.")
	}

	if cfg.APIToken == "" {
		log.Println("INFO: API_TOKEN not set. The job endpoints accept unauthenticated requests.")
	}
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("scheduler version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
