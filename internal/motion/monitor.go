package motion

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/ayusman/drishti/internal/capture"
	"github.com/ayusman/drishti/internal/sink"
)

// DefaultIdleTimeout is how long a scene must stay still before it is idle.
const DefaultIdleTimeout = 2 * time.Second

// ImageDetector scores consecutive images for motion.
type ImageDetector interface {
	Detect(img image.Image) (bool, float64, error)
	Close()
}

// State is a snapshot of scene activity.
type State struct {
	Active     bool      `json:"active"`
	Percent    float64   `json:"percent"`
	LastMotion time.Time `json:"last_motion,omitempty"`
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock sets the clock used for idle tracking.
func WithClock(c clock.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithIdleTimeout sets how long without motion before the scene is idle.
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.idle = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(m *Monitor) { m.logger = l }
}

// Monitor is a capture.Sink that runs motion detection off the capture
// goroutine. Bundles arriving while the previous one is still being scored
// are skipped.
type Monitor struct {
	det    ImageDetector
	ch     *sink.Channel
	clock  clock.Clock
	idle   time.Duration
	logger *zap.SugaredLogger

	mu    sync.Mutex
	state State

	scored atomic.Uint64
}

// NewMonitor creates a Monitor using det. The Monitor closes det when Run
// returns.
func NewMonitor(det ImageDetector, opts ...Option) *Monitor {
	m := &Monitor{
		det:    det,
		ch:     sink.NewChannel(1),
		clock:  clock.New(),
		idle:   DefaultIdleTimeout,
		logger: zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Deliver queues b for scoring.
func (m *Monitor) Deliver(b capture.Bundle) { m.ch.Deliver(b) }

// CaptureStopped makes Run return once the queue drains.
func (m *Monitor) CaptureStopped(err error) { m.ch.CaptureStopped(err) }

// Run scores bundles until capture stops or ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.det.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case b, ok := <-m.ch.C():
			if !ok {
				return nil
			}
			m.score(b)
		}
	}
}

func (m *Monitor) score(b capture.Bundle) {
	detected, pct, err := m.det.Detect(b.Left.Image)
	m.scored.Inc()
	if err != nil {
		m.logger.Debugw("motion detection failed", "sequence", b.Sequence, "error", err)
		return
	}

	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Percent = pct
	switch {
	case detected:
		m.state.LastMotion = now
		if !m.state.Active {
			m.state.Active = true
			m.logger.Infow("motion started", "percent", pct)
		}
	case m.state.Active && now.Sub(m.state.LastMotion) > m.idle:
		m.state.Active = false
		m.logger.Info("scene idle")
	}
}

// State returns the current activity snapshot.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Scored returns how many bundles have been scored.
func (m *Monitor) Scored() uint64 { return m.scored.Load() }

// Skipped returns how many bundles were skipped while scoring was busy.
func (m *Monitor) Skipped() uint64 { return m.ch.Dropped() }
