// Package capture provides camera backends for several hardware families and
// a capture thread that pulls frames from one backend and hands them to a Sink.
package capture

import (
	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Backend is one camera device. A backend is owned by a single goroutine:
// the caller until it is wrapped in a Thread, the Thread afterwards.
type Backend interface {
	// Init opens the device. It may be called once.
	Init() error

	// CaptureNext blocks until the next bundle is available. Failures are
	// reported as *CaptureError.
	CaptureNext() (Bundle, error)

	// Close releases the device. It is safe to call more than once.
	Close() error
}

// BackendState is the lifecycle state of a Backend.
type BackendState int

// Backend states.
const (
	BackendUninitialized BackendState = iota
	BackendInitialized
	BackendClosed
)

func (s BackendState) String() string {
	switch s {
	case BackendUninitialized:
		return "uninitialized"
	case BackendInitialized:
		return "initialized"
	case BackendClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// BackendOptions carries the collaborators a factory hands to a backend.
type BackendOptions struct {
	Logger *zap.SugaredLogger
	Clock  clock.Clock

	// Requested capture geometry; zero keeps the device default.
	Width  int
	Height int
	FPS    float64
}

func (o BackendOptions) withDefaults() BackendOptions {
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	return o
}

// Prepare resolves cfg.Kind in reg, builds the backend and initializes it.
// On init failure the backend is closed and an *InitError is returned. No
// device is touched when resolution fails.
func Prepare(reg *Registry, cfg Config, opts BackendOptions) (Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	factory, err := reg.Resolve(cfg.Kind)
	if err != nil {
		return nil, err
	}
	b := factory(cfg, opts.withDefaults())
	if err := b.Init(); err != nil {
		var ie *InitError
		if !errors.As(err, &ie) {
			err = &InitError{Kind: cfg.Kind, Device: cfg.Device, Err: err}
		}
		return nil, multierr.Append(err, b.Close())
	}
	return b, nil
}
