package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"flowops/internal/config"
	"flowops/internal/intake"
	"flowops/internal/logging"
	"flowops/internal/steps"
	"flowops/internal/store"
	"flowops/internal/types"
	"flowops/internal/workflows"
)

const shutdownTimeout = 5 * time.Second

type Options struct {
	Version string
	Logger  logging.Logger
	// Store overrides the configured backend.
	Store store.Store
	// Secret signs API tokens; empty runs the API as the local admin.
	Secret string
	Clock  func() time.Time
}

// Daemon wires the engine, webhook intake and HTTP API together.
type Daemon struct {
	cfg       config.CoreConfig
	version   string
	logger    logging.Logger
	store     store.Store
	service   *workflows.Service
	processor *intake.Processor
	handler   http.Handler
	server    *http.Server
}

func New(cfg config.CoreConfig, opts Options) (*Daemon, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	st := opts.Store
	if st == nil {
		var err error
		st, err = OpenStore(cfg)
		if err != nil {
			return nil, err
		}
	}
	registry, err := BuildRegistry(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := workflows.NewMetrics(promRegistry)

	executor := workflows.NewExecutor(
		workflows.WithStepTimeout(cfg.StepTimeout()),
		workflows.WithBreakerSettings(cfg.BreakerFailures(), cfg.BreakerOpenFor()),
		workflows.WithBreakerStateHook(func(step string, from, to gobreaker.State) {
			logger.Warn("step_breaker_state",
				logging.F("step", step),
				logging.F("from", from.String()),
				logging.F("to", to.String()),
			)
			metrics.BreakerOpen(step, to == gobreaker.StateOpen)
		}),
	)
	steps.Register(executor, integrationDeps(cfg, st, opts.Clock))
	for _, def := range registry.List() {
		for _, step := range def.Steps {
			if !executor.Has(step) {
				_ = st.Close()
				return nil, fmt.Errorf("workflow %q: unknown step %q", def.ID, step)
			}
		}
	}

	svcOpts := []workflows.ServiceOption{
		workflows.WithRegistry(registry),
		workflows.WithExecutor(executor),
		workflows.WithMetrics(metrics),
		workflows.WithLogger(logger.With(logging.F("component", "engine"))),
		workflows.WithMaxStepAttempts(cfg.MaxStepAttempts()),
		workflows.WithApprovalTTL(cfg.ApprovalTTL()),
	}
	if opts.Clock != nil {
		svcOpts = append(svcOpts, workflows.WithClock(opts.Clock))
	}
	service := workflows.NewService(st, svcOpts...)

	processor := intake.NewProcessor(st, service,
		intake.WithProcessorLogger(logger.With(logging.F("component", "intake"))),
		intake.WithProcessorMetrics(metrics),
		intake.WithDispatchOptions(
			workflows.WithDispatchWorkers(cfg.DispatchWorkers()),
			workflows.WithDispatchBuffer(cfg.DispatchBuffer()),
		),
	)
	ratePerSecond, burst := cfg.WebhookRate()
	webhooks := intake.NewHandler(processor,
		intake.NewSignatureVerifier(cfg.HubSpotSecret(), 0),
		intake.HandlerConfig{PublicURL: cfg.Webhooks.PublicURL, RatePerSecond: ratePerSecond, Burst: burst},
		logger.With(logging.F("component", "webhooks")),
	)

	api := &API{
		Version:    opts.Version,
		Service:    service,
		Dispatcher: processor,
		Webhooks:   webhooks,
		Metrics:    promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}),
		Logger:     logger,
	}
	auth := NewAuthenticator(opts.Secret, cfg.JWTIssuer(), logger)
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins(),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
	})

	return &Daemon{
		cfg:       cfg,
		version:   opts.Version,
		logger:    logger,
		store:     st,
		service:   service,
		processor: processor,
		handler:   LoggingMiddleware(logger, corsHandler.Handler(auth.Middleware(api.Router()))),
	}, nil
}

func (d *Daemon) Handler() http.Handler { return d.handler }

func (d *Daemon) Service() *workflows.Service { return d.service }

// Run serves until ctx ends. Runs left PENDING or RUNNING by a previous
// process are handed back to the workers first.
func (d *Daemon) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", d.cfg.ServerAddress())
	if err != nil {
		return err
	}
	return d.Serve(ctx, listener)
}

func (d *Daemon) Serve(ctx context.Context, listener net.Listener) error {
	d.server = &http.Server{
		Handler:           d.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if n, err := d.ResumeRuns(ctx); err != nil {
		d.logger.Warn("run_resume_failed", logging.F("error", err))
	} else if n > 0 {
		d.logger.Info("runs_resumed", logging.F("count", n))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d.logger.Info("daemon_listening",
			logging.F("addr", listener.Addr().String()),
			logging.F("storage", d.store.Backend()),
			logging.F("version", d.version),
		)
		if err := d.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return d.service.RunApprovalSweeper(gctx, d.cfg.ApprovalSweepInterval())
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return d.server.Shutdown(shutdownCtx)
	})
	err := g.Wait()
	d.processor.Close()
	return err
}

// ResumeRuns dispatches every run that was still in flight.
func (d *Daemon) ResumeRuns(ctx context.Context) (int, error) {
	var pending []*types.Run
	err := d.store.View(ctx, func(tx *store.Tx) error {
		for _, status := range []types.RunStatus{types.RunStatusPending, types.RunStatusRunning} {
			runs, err := tx.ListRuns(store.RunFilter{Status: status})
			if err != nil {
				return err
			}
			pending = append(pending, runs...)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	count := 0
	for _, run := range pending {
		if d.processor.Dispatch(run.ID, "resume") {
			count++
		}
	}
	return count, nil
}

func (d *Daemon) Close() error {
	d.processor.Close()
	return d.store.Close()
}

// OpenStore opens the configured storage backend.
func OpenStore(cfg config.CoreConfig) (store.Store, error) {
	backend := cfg.StorageBackend()
	if backend == config.StorageMemory {
		return store.NewMemoryStore(), nil
	}
	path, err := cfg.StoragePath()
	if err != nil {
		return nil, err
	}
	switch backend {
	case config.StorageFile:
		return store.NewFileStore(path)
	default:
		return store.NewBboltStore(path)
	}
}

// BuildRegistry layers configured workflows over the builtin ones.
func BuildRegistry(cfg config.CoreConfig) (*workflows.Registry, error) {
	registry, err := workflows.NewRegistry(workflows.BuiltinDefinitions()...)
	if err != nil {
		return nil, err
	}
	for _, wf := range cfg.Workflows {
		def := workflows.WorkflowDefinition{
			ID:          wf.ID,
			Name:        wf.Name,
			Description: wf.Description,
			Triggers:    wf.Triggers,
			Steps:       wf.Steps,
		}
		if err := registry.Register(def); err != nil {
			return nil, fmt.Errorf("workflow %q: %w", wf.ID, err)
		}
	}
	return registry, nil
}

// ResolveSecret returns the configured JWT secret, or the one kept in the
// data directory.
func ResolveSecret(cfg config.CoreConfig) (string, error) {
	if secret := cfg.JWTSecret(); secret != "" {
		return secret, nil
	}
	dataDir, err := config.DataDir()
	if err != nil {
		return "", err
	}
	return LoadOrCreateSecret(filepath.Join(dataDir, "jwt.secret"))
}

func integrationDeps(cfg config.CoreConfig, st store.Store, now func() time.Time) steps.Deps {
	deps := steps.Deps{Store: st, KickoffStage: cfg.KickoffStage(), Now: now}
	token := cfg.Webhooks.IntegrationToken
	if url := cfg.Webhooks.CalendarURL; url != "" {
		deps.Calendar = steps.NewWebhookClient(url, token, cfg.StepTimeout())
	}
	if url := cfg.Webhooks.ProcurementURL; url != "" {
		deps.Procurement = steps.NewWebhookClient(url, token, cfg.StepTimeout())
	}
	return deps
}
