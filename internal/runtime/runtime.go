package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-bouyomi/internal/bouyomi"
	"github.com/loqalabs/loqa-bouyomi/internal/bus"
	"github.com/loqalabs/loqa-bouyomi/internal/config"
	"github.com/loqalabs/loqa-bouyomi/internal/eventstore"
	"github.com/loqalabs/loqa-bouyomi/internal/monitor"
	"github.com/loqalabs/loqa-bouyomi/internal/natsserver"
	"github.com/loqalabs/loqa-bouyomi/internal/speech"
	"golang.org/x/sync/errgroup"
)

const pruneInterval = time.Hour

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool

	nats    *natsserver.EmbeddedServer
	bus     *bus.Client
	store   *eventstore.Store
	client  *bouyomi.Client
	speech  *speech.Service
	monitor *monitor.Monitor

	// listening receives the bound HTTP address once the listener is open.
	listening chan string
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:       cfg,
		logger:    logger,
		listening: make(chan string, 1),
	}
}

// Start brings up telemetry, the bus, the command history, the speech bridge
// and the status monitor, then serves HTTP until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	defer r.shutdown()

	if err := r.startComponents(ctx); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	addr := net.JoinHostPort(r.cfg.HTTP.Bind, fmt.Sprint(r.cfg.HTTP.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	r.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := r.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		r.pruneLoop(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		r.ready.Store(false)
		r.logger.Info("runtime stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
		return nil
	})

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", ln.Addr().String()),
		slog.String("bouyomi_host", r.client.Host()),
		slog.String("bouyomi_port", r.client.Port()))
	r.listening <- ln.Addr().String()

	return g.Wait()
}

func (r *Runtime) startComponents(ctx context.Context) error {
	busCfg := r.cfg.Bus
	if busCfg.Embedded {
		ns, err := natsserver.Start(busCfg, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start embedded nats: %w", err)
		}
		r.nats = ns
		busCfg.Servers = []string{ns.ClientURL()}
	}

	busClient, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	r.bus = busClient

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	r.store = store

	r.client = r.cfg.Bouyomi.NewClient(r.logger)

	r.speech = speech.NewService(ctx, r.cfg.Speech, r.bus, r.client, r.store, r.logger)
	if err := r.speech.Start(); err != nil {
		return fmt.Errorf("failed to start speech service: %w", err)
	}

	r.monitor = monitor.New(r.cfg.Monitor, r.client, r.bus, r.logger)
	r.monitor.Start(ctx)
	return nil
}

// shutdown releases components in reverse start order.
func (r *Runtime) shutdown() {
	if r.monitor != nil {
		r.monitor.Close()
	}
	if r.speech != nil {
		r.speech.Close()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("event store close error", slog.String("error", err.Error()))
		}
	}
	if r.bus != nil {
		r.bus.Close()
	}
	if r.nats != nil {
		r.nats.Shutdown()
	}
	if r.tracerClose != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.tracerClose(ctx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.store.Prune(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("event store prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

type healthReport struct {
	Status     string          `json:"status"`
	Components map[string]bool `json:"components"`
}

func (r *Runtime) components() map[string]bool {
	return map[string]bool{
		"bus":         r.bus != nil && r.bus.Healthy(),
		"speech":      r.speech != nil && r.speech.Healthy(),
		"bouyomichan": r.monitor != nil && r.monitor.Healthy(),
	}
}

// handleHealth reports the process as alive and lists component state;
// an unreachable BouyomiChan only affects readiness.
func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeReport(w, http.StatusOK, healthReport{Status: "ok", Components: r.components()})
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	comps := r.components()
	ready := r.ready.Load()
	for _, ok := range comps {
		ready = ready && ok
	}
	if ready {
		writeReport(w, http.StatusOK, healthReport{Status: "ready", Components: comps})
		return
	}
	writeReport(w, http.StatusServiceUnavailable, healthReport{Status: "not ready", Components: comps})
}

func writeReport(w http.ResponseWriter, code int, report healthReport) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(report)
}
