// Package recorder persists captured bundles to the session store without
// blocking the capture loop.
package recorder

import (
	"image"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ayusman/drishti/internal/capture"
	"github.com/ayusman/drishti/internal/store"
)

// Defaults for the write queue.
const (
	DefaultQueueSize = 32
	DefaultBatchSize = 8
)

// Encoder turns an image into bytes for storage.
type Encoder func(img image.Image) ([]byte, error)

// Config holds recorder options.
type Config struct {
	Store     *store.Store
	SessionID string
	Camera    capture.Config
	QueueSize int
	BatchSize int
	Encoder   Encoder
	Logger    *zap.SugaredLogger
}

// Recorder is a capture.Sink that writes bundles to the store from its own
// goroutine. Bundles arriving while the queue is full are dropped.
type Recorder struct {
	cfg   Config
	queue chan capture.Bundle
	done  chan struct{}

	mu      sync.Mutex
	closed  bool
	stopErr error
	err     error

	written atomic.Int64
	dropped atomic.Int64
}

// New creates the session row and starts the writer goroutine.
func New(cfg Config) (*Recorder, error) {
	if cfg.Store == nil {
		return nil, errors.New("recorder needs a store")
	}
	if cfg.SessionID == "" {
		return nil, errors.New("recorder needs a session id")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Encoder == nil {
		cfg.Encoder = capture.EncodeJPEG
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}

	sess := &store.Session{
		ID:     cfg.SessionID,
		Kind:   int(cfg.Camera.Kind),
		Device: cfg.Camera.Device,
		Stereo: cfg.Camera.Stereo,
	}
	if err := cfg.Store.Sessions().Create(sess); err != nil {
		return nil, errors.Wrap(err, "create session")
	}

	r := &Recorder{
		cfg:   cfg,
		queue: make(chan capture.Bundle, cfg.QueueSize),
		done:  make(chan struct{}),
	}
	go r.run()
	return r, nil
}

// Deliver queues b for writing or drops it when the queue is full or the
// recorder is closed.
func (r *Recorder) Deliver(b capture.Bundle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		r.dropped.Inc()
		return
	}
	select {
	case r.queue <- b:
	default:
		r.dropped.Inc()
	}
}

// CaptureStopped ends the session once queued bundles are written. Only the
// first call counts.
func (r *Recorder) CaptureStopped(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	r.stopErr = err
	close(r.queue)
}

// Close waits for pending writes and records the session result. It is
// safe to call without a prior CaptureStopped.
func (r *Recorder) Close() error {
	r.CaptureStopped(nil)
	<-r.done

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Written returns the number of bundles stored.
func (r *Recorder) Written() int64 { return r.written.Load() }

// Dropped returns the number of bundles that were not stored: dropped under
// backpressure, failed to encode or failed to write.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

func (r *Recorder) run() {
	defer close(r.done)

	var (
		batch []store.Frame
		errs  error
	)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := r.cfg.Store.Frames().Insert(batch); err != nil {
			r.cfg.Logger.Warnw("writing frames failed", "session", r.cfg.SessionID, "frames", len(batch), "error", err)
			errs = multierr.Append(errs, err)
			r.dropped.Add(int64(len(batch)))
		} else {
			r.written.Add(int64(len(batch)))
		}
		batch = batch[:0]
	}

	for b := range r.queue {
		f, err := r.encode(b)
		if err != nil {
			r.cfg.Logger.Warnw("encoding frame failed", "sequence", b.Sequence, "error", err)
			r.dropped.Inc()
			continue
		}
		batch = append(batch, f)
		if len(batch) >= r.cfg.BatchSize {
			flush()
		}
	}
	flush()

	r.mu.Lock()
	stopErr := r.stopErr
	r.mu.Unlock()

	status, msg := store.SessionStopped, ""
	if stopErr != nil {
		status, msg = store.SessionFailed, stopErr.Error()
	}
	if err := r.cfg.Store.Sessions().Finish(r.cfg.SessionID, status, r.written.Load(), r.dropped.Load(), msg); err != nil {
		errs = multierr.Append(errs, err)
	}

	r.cfg.Logger.Infow("recording finished",
		"session", r.cfg.SessionID,
		"status", status,
		"written", r.written.Load(),
		"dropped", r.dropped.Load(),
	)

	r.mu.Lock()
	r.err = errs
	r.mu.Unlock()
}

func (r *Recorder) encode(b capture.Bundle) (store.Frame, error) {
	f := store.Frame{
		SessionID:   r.cfg.SessionID,
		Sequence:    int64(b.Sequence),
		TimestampNs: b.Timestamp.UnixNano(),
		Width:       b.Left.Width,
		Height:      b.Left.Height,
		Stereo:      b.Stereo(),
	}

	left, err := r.cfg.Encoder(b.Left.Image)
	if err != nil {
		return f, errors.Wrap(err, "left image")
	}
	f.Left = left

	if b.Right != nil {
		right, err := r.cfg.Encoder(b.Right.Image)
		if err != nil {
			return f, errors.Wrap(err, "right image")
		}
		f.Right = right
	}
	return f, nil
}

