package capture

import (
	"image"
	"image/color"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// FakeBackend is a simulated camera for tests and headless runs. It produces
// small gray frames and can be scripted to fail on given capture calls.
type FakeBackend struct {
	opts     BackendOptions
	stereo   bool
	interval time.Duration

	mu     sync.Mutex
	state  BackendState
	initEr error
	errs   map[int64]error

	inits    atomic.Int64
	captures atomic.Int64
	closes   atomic.Int64
}

// NewFakeBackend creates a FakeBackend that delivers a frame every interval.
func NewFakeBackend(opts BackendOptions, stereo bool, interval time.Duration) *FakeBackend {
	return &FakeBackend{
		opts:     opts.withDefaults(),
		stereo:   stereo,
		interval: interval,
		errs:     make(map[int64]error),
	}
}

// FakeDescriptor registers a FakeBackend under kind. Each backend built by the
// descriptor is passed to setup before it is returned, when setup is non-nil.
func FakeDescriptor(kind Kind, available bool, setup func(*FakeBackend)) Descriptor {
	return Descriptor{
		Kind:      kind,
		Name:      "simulated " + kind.String(),
		Stereo:    MonoOrStereo,
		Available: func() bool { return available },
		New: func(cfg Config, opts BackendOptions) Backend {
			f := NewFakeBackend(opts, cfg.Stereo, time.Millisecond)
			if setup != nil {
				setup(f)
			}
			return f
		},
	}
}

// SetInitError makes Init fail with err.
func (f *FakeBackend) SetInitError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initEr = err
}

// SetError makes the n-th CaptureNext call (counting from 1) fail with err.
func (f *FakeBackend) SetError(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[int64(n)] = err
}

// Init marks the simulated device open.
func (f *FakeBackend) Init() error {
	f.inits.Inc()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != BackendUninitialized {
		return &LifecycleError{Op: "init", State: f.state.String()}
	}
	if f.initEr != nil {
		return f.initEr
	}
	f.state = BackendInitialized
	return nil
}

// CaptureNext returns the next simulated bundle or the scripted error.
func (f *FakeBackend) CaptureNext() (Bundle, error) {
	n := f.captures.Inc()

	f.mu.Lock()
	state := f.state
	err := f.errs[n]
	f.mu.Unlock()

	if state != BackendInitialized {
		return Bundle{}, &LifecycleError{Op: "capture", State: state.String()}
	}
	if f.interval > 0 {
		time.Sleep(f.interval)
	}
	if err != nil {
		return Bundle{}, err
	}

	ts := f.opts.Clock.Now()
	if f.stereo {
		return NewStereoBundle(ts, grayFrame(uint8(n)), grayFrame(uint8(n)+128)), nil
	}
	return NewMonoBundle(ts, grayFrame(uint8(n))), nil
}

// Close marks the simulated device closed.
func (f *FakeBackend) Close() error {
	f.closes.Inc()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = BackendClosed
	return nil
}

// State returns the backend lifecycle state.
func (f *FakeBackend) State() BackendState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// InitCalls returns how many times Init was called.
func (f *FakeBackend) InitCalls() int { return int(f.inits.Load()) }

// CaptureCalls returns how many times CaptureNext was called.
func (f *FakeBackend) CaptureCalls() int { return int(f.captures.Load()) }

// CloseCalls returns how many times Close was called.
func (f *FakeBackend) CloseCalls() int { return int(f.closes.Load()) }

func grayFrame(v uint8) image.Image {
	img := image.NewGray(image.Rect(0, 0, 8, 6))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	img.SetGray(0, 0, color.Gray{Y: 255 - v})
	return img
}
