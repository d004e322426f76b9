package capture

import (
	"runtime"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// DefaultRetryDelay is the pause after a recoverable capture error.
const DefaultRetryDelay = 5 * time.Millisecond

// ThreadState is the lifecycle state of a Thread. States only move forward.
type ThreadState int

// Thread states.
const (
	ThreadCreated ThreadState = iota
	ThreadStarted
	ThreadRunning
	ThreadStopRequested
	ThreadStopped
)

func (s ThreadState) String() string {
	switch s {
	case ThreadCreated:
		return "created"
	case ThreadStarted:
		return "started"
	case ThreadRunning:
		return "running"
	case ThreadStopRequested:
		return "stop_requested"
	case ThreadStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Stats are counters for one capture run.
type Stats struct {
	Frames      uint64 `json:"frames"`
	Recoverable uint64 `json:"recoverable_errors"`
}

// ThreadOption configures a Thread.
type ThreadOption func(*Thread)

// WithLogger sets the logger used by the capture loop.
func WithLogger(l *zap.SugaredLogger) ThreadOption {
	return func(t *Thread) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithClock sets the clock used for pauses and missing timestamps.
func WithClock(c clock.Clock) ThreadOption {
	return func(t *Thread) {
		if c != nil {
			t.clock = c
		}
	}
}

// WithRetryDelay sets the pause after a recoverable error. Zero retries
// immediately.
func WithRetryDelay(d time.Duration) ThreadOption {
	return func(t *Thread) {
		if d >= 0 {
			t.retryDelay = d
		}
	}
}

// Thread runs a capture loop for one initialized Backend on a dedicated OS
// thread and delivers bundles to a Sink. The Thread owns the backend and
// closes it exactly once.
type Thread struct {
	id         uuid.UUID
	backend    Backend
	logger     *zap.SugaredLogger
	clock      clock.Clock
	retryDelay time.Duration

	mu       sync.Mutex
	state    ThreadState
	started  bool
	err      error
	closeErr error

	stopCh    chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
	closeOnce sync.Once

	frames      atomic.Uint64
	recoverable atomic.Uint64
}

// NewThread wraps an initialized backend. The caller must not use b after
// this call.
func NewThread(b Backend, opts ...ThreadOption) *Thread {
	t := &Thread{
		id:         uuid.New(),
		backend:    b,
		logger:     zap.NewNop().Sugar(),
		clock:      clock.New(),
		retryDelay: DefaultRetryDelay,
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("thread", t.id.String())
	return t
}

// ID returns the thread's unique id.
func (t *Thread) ID() uuid.UUID { return t.id }

// State returns the current lifecycle state.
func (t *Thread) State() ThreadState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err returns the error that ended the loop, if any.
func (t *Thread) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Stats returns a snapshot of the run counters.
func (t *Thread) Stats() Stats {
	return Stats{Frames: t.frames.Load(), Recoverable: t.recoverable.Load()}
}

// Done is closed once the loop has exited and the backend is closed.
func (t *Thread) Done() <-chan struct{} { return t.done }

// Start launches the capture loop. It fails if the thread was already started
// or a stop was requested.
func (t *Thread) Start(sink Sink) error {
	if sink == nil {
		return errors.New("capture thread needs a sink")
	}

	t.mu.Lock()
	if t.state != ThreadCreated {
		state := t.state
		t.mu.Unlock()
		return &LifecycleError{Op: "start", State: state.String()}
	}
	t.state = ThreadStarted
	t.started = true
	t.mu.Unlock()

	go t.run(sink)
	return nil
}

// RequestStop asks the loop to exit after its current iteration. It does not
// block and may be called any number of times.
func (t *Thread) RequestStop() {
	t.mu.Lock()
	if t.state < ThreadStopRequested {
		t.state = ThreadStopRequested
		t.logger.Debug("stop requested")
	}
	t.mu.Unlock()

	t.stopOnce.Do(func() { close(t.stopCh) })
}

// Join waits for the loop to exit. With force set it requests a stop first.
// When Join returns the backend has been closed and the thread is Stopped.
// The returned error is the one that ended the loop combined with any close
// error.
func (t *Thread) Join(force bool) error {
	if force {
		t.RequestStop()
	}

	t.mu.Lock()
	started, state := t.started, t.state
	t.mu.Unlock()

	if !started {
		if state == ThreadCreated {
			return &LifecycleError{Op: "join", State: state.String()}
		}
		t.closeOnce.Do(func() {
			err := t.backend.Close()
			t.mu.Lock()
			t.closeErr = err
			t.state = ThreadStopped
			t.mu.Unlock()
			close(t.done)
		})
	}

	<-t.done

	t.mu.Lock()
	defer t.mu.Unlock()
	return multierr.Append(t.err, t.closeErr)
}

func (t *Thread) run(sink Sink) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	t.mu.Lock()
	if t.state == ThreadStarted {
		t.state = ThreadRunning
	}
	t.mu.Unlock()
	t.logger.Info("capture loop started")

	loopErr := t.loop(sink)

	var closeErr error
	t.closeOnce.Do(func() { closeErr = t.backend.Close() })
	if closeErr != nil {
		t.logger.Warnw("closing camera failed", "error", closeErr)
	}

	t.mu.Lock()
	t.err = loopErr
	t.closeErr = closeErr
	t.state = ThreadStopped
	t.mu.Unlock()

	stats := t.Stats()
	if loopErr != nil {
		t.logger.Errorw("capture loop stopped", "error", loopErr, "frames", stats.Frames)
	} else {
		t.logger.Infow("capture loop stopped", "frames", stats.Frames)
	}

	if obs, ok := sink.(StopObserver); ok {
		obs.CaptureStopped(loopErr)
	}
	close(t.done)
}

func (t *Thread) loop(sink Sink) error {
	var (
		seq  uint64
		last time.Time
	)

	for {
		select {
		case <-t.stopCh:
			return nil
		default:
		}

		b, err := t.backend.CaptureNext()
		if err != nil {
			if IsFatal(err) {
				return err
			}
			t.recoverable.Inc()
			t.logger.Debugw("skipping frame", "error", err)
			if t.retryDelay > 0 {
				select {
				case <-t.stopCh:
					return nil
				case <-t.clock.After(t.retryDelay):
				}
			}
			continue
		}

		seq++
		b.Sequence = seq
		if b.Timestamp.IsZero() {
			b.Timestamp = t.clock.Now()
		}
		if !b.Timestamp.After(last) {
			b.Timestamp = last.Add(time.Nanosecond)
		}
		last = b.Timestamp

		sink.Deliver(b)
		t.frames.Inc()
	}
}
