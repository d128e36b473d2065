package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-listen/internal/bus"
	"github.com/loqalabs/loqa-listen/internal/config"
	"github.com/loqalabs/loqa-listen/internal/eventstore"
	"github.com/loqalabs/loqa-listen/internal/natsserver"
	"github.com/loqalabs/loqa-listen/internal/speech"
	"github.com/loqalabs/loqa-listen/internal/stt"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	metrics     *http.Server
	tracerClose func(context.Context) error
	nats        *natsserver.EmbeddedServer
	bus         *bus.Client
	store       *eventstore.Store
	speech      *speech.Service
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	defer r.shutdown()

	if err := r.startServices(ctx); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	r.speech.Register(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, "http")

	if metricsHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		r.metrics = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.serve(r.metrics, "metrics")
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	return nil
}

func (r *Runtime) startServices(ctx context.Context) error {
	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return err
	}
	r.nats = embedded

	busCfg := r.cfg.Bus
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return err
	}
	r.bus = client

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger.With(slog.String("component", "event-store")))
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	r.store = store

	transcriber, err := stt.New(r.cfg.STT)
	if err != nil {
		return fmt.Errorf("create transcriber: %w", err)
	}

	r.speech = speech.NewService(ctx, r.cfg, r.bus, r.store, transcriber, r.logger)
	if err := r.speech.Start(); err != nil {
		return fmt.Errorf("start speech service: %w", err)
	}
	return nil
}

func (r *Runtime) serve(srv *http.Server, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("server", name), slog.String("error", err.Error()))
		}
	}()
}

// shutdown releases everything Start acquired, in reverse order.
func (r *Runtime) shutdown() {
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	for _, srv := range []*http.Server{r.httpServer, r.metrics} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if r.speech != nil {
		r.speech.Close()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("event store close error", slog.String("error", err.Error()))
		}
	}
	r.bus.Close()
	r.nats.Shutdown()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) healthy() bool {
	return r.bus.Healthy() && r.speech != nil && r.speech.Healthy()
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if !r.healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("unhealthy"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
