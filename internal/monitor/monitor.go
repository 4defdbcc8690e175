package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-bouyomi/internal/config"
	"github.com/loqalabs/loqa-bouyomi/internal/protocol"
	"github.com/loqalabs/loqa-bouyomi/internal/speech"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Publisher sends status changes to interested parties.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// Monitor polls BouyomiChan on an interval, keeps the last status, publishes
// changes and exposes the state as gauges.
type Monitor struct {
	cfg      config.MonitorConfig
	log      *slog.Logger
	source   speech.Snapshotter
	pub      Publisher
	interval time.Duration

	mu     sync.RWMutex
	last   protocol.Status
	polled bool

	cancel context.CancelFunc
	done   chan struct{}
	meter  metric.Meter
	reg    metric.Registration
}

func New(cfg config.MonitorConfig, source speech.Snapshotter, pub Publisher, log *slog.Logger) *Monitor {
	return &Monitor{
		cfg:      cfg,
		log:      log.With(slog.String("component", "bouyomi-monitor")),
		source:   source,
		pub:      pub,
		interval: time.Duration(cfg.IntervalMS) * time.Millisecond,
		meter:    otel.Meter("github.com/loqalabs/loqa-bouyomi/monitor"),
	}
}

// Start polls once synchronously and then keeps polling until Close.
func (m *Monitor) Start(ctx context.Context) {
	if !m.cfg.Enabled {
		return
	}
	if err := m.initMetrics(); err != nil {
		m.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.poll(ctx)
	go m.run(ctx)
}

func (m *Monitor) Close() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
	if m.reg != nil {
		_ = m.reg.Unregister()
	}
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *Monitor) poll(ctx context.Context) {
	pollCtx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()
	status := speech.QueryStatus(pollCtx, m.source)
	if ctx.Err() != nil {
		return
	}

	m.mu.Lock()
	changed := !m.polled || !sameState(m.last, status)
	m.last = status
	m.polled = true
	m.mu.Unlock()

	if !changed {
		return
	}
	if status.Reachable {
		m.log.Info("bouyomichan status changed",
			slog.Bool("paused", status.Paused),
			slog.Bool("playing", status.Playing),
			slog.Int("remaining_tasks", int(status.RemainingTasks)))
	} else {
		m.log.Warn("bouyomichan unreachable", slog.String("error", status.Error))
	}
	if m.pub != nil {
		if err := m.pub.PublishJSON(protocol.SubjectStatusUpdate, status); err != nil {
			m.log.Warn("failed to publish status", slog.String("error", err.Error()))
		}
	}
}

func sameState(a, b protocol.Status) bool {
	return a.Reachable == b.Reachable &&
		a.Paused == b.Paused &&
		a.Playing == b.Playing &&
		a.RemainingTasks == b.RemainingTasks
}

// Status returns the last polled state.
func (m *Monitor) Status() protocol.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Healthy reports whether the last poll reached BouyomiChan. A disabled
// monitor is always healthy.
func (m *Monitor) Healthy() bool {
	if !m.cfg.Enabled {
		return true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last.Reachable
}

func (m *Monitor) initMetrics() error {
	reachable, err := m.meter.Int64ObservableGauge("bouyomi.reachable",
		metric.WithDescription("1 when the last status poll reached BouyomiChan"))
	if err != nil {
		return err
	}
	playing, err := m.meter.Int64ObservableGauge("bouyomi.playing",
		metric.WithDescription("1 while BouyomiChan is reading a message"))
	if err != nil {
		return err
	}
	paused, err := m.meter.Int64ObservableGauge("bouyomi.paused",
		metric.WithDescription("1 while BouyomiChan playback is paused"))
	if err != nil {
		return err
	}
	remaining, err := m.meter.Int64ObservableGauge("bouyomi.remaining_tasks",
		metric.WithDescription("Messages queued in BouyomiChan (saturates at 255)"))
	if err != nil {
		return err
	}

	m.reg, err = m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := m.Status()
		o.ObserveInt64(reachable, boolGauge(s.Reachable))
		o.ObserveInt64(playing, boolGauge(s.Playing))
		o.ObserveInt64(paused, boolGauge(s.Paused))
		o.ObserveInt64(remaining, int64(s.RemainingTasks))
		return nil
	}, reachable, playing, paused, remaining)
	return err
}

func boolGauge(v bool) int64 {
	if v {
		return 1
	}
	return 0
}
