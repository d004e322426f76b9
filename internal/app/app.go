// Package app wires a capture thread to its consumers: the preview server,
// the recorder and the motion monitor.
package app

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ayusman/drishti/internal/capture"
	"github.com/ayusman/drishti/internal/motion"
	"github.com/ayusman/drishti/internal/recorder"
	"github.com/ayusman/drishti/internal/server"
	"github.com/ayusman/drishti/internal/sink"
	"github.com/ayusman/drishti/internal/store"
	"github.com/ayusman/drishti/internal/tray"
)

// ErrNotOpened is returned by Run when Open has not succeeded.
var ErrNotOpened = errors.New("capture not opened")

// Config holds configuration options for the application.
type Config struct {
	Registry *capture.Registry
	Camera   capture.Config
	Backend  capture.BackendOptions

	// Addr is the preview server address. Empty disables the server.
	Addr         string
	StaticDir    string
	MaxStreamFPS float64

	// Store enables the sessions API. Record also persists bundles to it.
	Store  *store.Store
	Record bool

	// MotionThreshold enables motion tracking when positive.
	MotionThreshold float64
	NewDetector     func(threshold float64) motion.ImageDetector

	// Encoder overrides JPEG encoding for the stream and the recorder.
	Encoder func(img image.Image) ([]byte, error)

	RetryDelay time.Duration
	Clock      clock.Clock
	Logger     *zap.SugaredLogger
}

// App runs one capture session.
type App struct {
	config Config
	logger *zap.SugaredLogger

	mu      sync.RWMutex
	thread  *capture.Thread
	latest  *sink.Latest
	monitor *motion.Monitor
	rec     *recorder.Recorder
	running bool
}

// New creates a new App instance with the given configuration.
func New(config Config) *App {
	if config.Registry == nil {
		config.Registry = capture.DefaultRegistry
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop().Sugar()
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = capture.DefaultRetryDelay
	}
	if config.NewDetector == nil {
		config.NewDetector = func(threshold float64) motion.ImageDetector {
			return motion.NewDetector(threshold)
		}
	}

	return &App{
		config: config,
		logger: config.Logger,
		latest: sink.NewLatest(),
	}
}

// Open resolves and initializes the configured backend. Its errors are the
// capture package's AvailabilityError and InitError, unchanged.
func (a *App) Open() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.thread != nil {
		return &capture.LifecycleError{Op: "open", State: a.thread.State().String()}
	}

	opts := a.config.Backend
	opts.Logger = a.logger
	opts.Clock = a.config.Clock

	b, err := capture.Prepare(a.config.Registry, a.config.Camera, opts)
	if err != nil {
		return err
	}

	a.thread = capture.NewThread(b,
		capture.WithLogger(a.logger),
		capture.WithClock(a.config.Clock),
		capture.WithRetryDelay(a.config.RetryDelay),
	)
	return nil
}

// Run starts capture and serves until capture ends or ctx is cancelled. It
// returns the error that ended capture combined with any shutdown errors.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	th := a.thread
	if th == nil {
		a.mu.Unlock()
		return ErrNotOpened
	}
	// A thread runs once; a repeated Run must leave the live one alone.
	if a.running || th.State() != capture.ThreadCreated {
		a.mu.Unlock()
		return &capture.LifecycleError{Op: "run", State: th.State().String()}
	}
	a.running = true
	a.mu.Unlock()

	sinks := sink.Multi{a.latest}

	if a.config.Record && a.config.Store != nil {
		rec, err := recorder.New(recorder.Config{
			Store:     a.config.Store,
			SessionID: th.ID().String(),
			Camera:    a.config.Camera,
			Encoder:   a.config.Encoder,
			Logger:    a.logger,
		})
		if err != nil {
			th.RequestStop()
			return multierr.Append(errors.Wrap(err, "start recorder"), th.Join(false))
		}
		a.mu.Lock()
		a.rec = rec
		a.mu.Unlock()
		sinks = append(sinks, rec)
	}

	if a.config.MotionThreshold > 0 {
		mon := motion.NewMonitor(a.config.NewDetector(a.config.MotionThreshold),
			motion.WithClock(a.config.Clock),
			motion.WithLogger(a.logger),
		)
		a.mu.Lock()
		a.monitor = mon
		a.mu.Unlock()
		sinks = append(sinks, mon)
	}

	if err := th.Start(sinks); err != nil {
		th.RequestStop()
		return multierr.Combine(err, th.Join(false), a.closeRecorder())
	}
	a.logger.Infow("capture started", "thread", th.ID().String(), "camera", a.config.Camera.String())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	var captureErr error
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-th.Done():
		}
		captureErr = th.Join(true)
		// Capture has ended; bring the rest down with it.
		cancel()
		return nil
	})

	if a.config.Addr != "" {
		srv := server.New(server.Config{
			StaticDir: a.config.StaticDir,
			Store:     a.config.Store,
			Status:    a,
			Latest:    a.latest,
			Encoder:   a.config.Encoder,
			MaxFPS:    a.config.MaxStreamFPS,
			Logger:    a.logger,
		})
		g.Go(func() error {
			return errors.Wrap(srv.ListenAndServe(gctx, a.config.Addr), "http server")
		})
	}

	a.mu.RLock()
	mon := a.monitor
	a.mu.RUnlock()
	if mon != nil {
		g.Go(func() error { return mon.Run(gctx) })
	}

	err := g.Wait()
	return multierr.Combine(captureErr, err, a.closeRecorder())
}

func (a *App) closeRecorder() error {
	a.mu.RLock()
	rec := a.rec
	a.mu.RUnlock()
	if rec == nil {
		return nil
	}
	return errors.Wrap(rec.Close(), "close recorder")
}

// Stop requests the capture loop to end. Run returns once it has.
func (a *App) Stop() {
	a.mu.RLock()
	th := a.thread
	a.mu.RUnlock()
	if th != nil {
		th.RequestStop()
	}
}

// Thread returns the capture thread, or nil before Open.
func (a *App) Thread() *capture.Thread {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.thread
}

// Latest returns the sink holding the newest bundle.
func (a *App) Latest() *sink.Latest {
	return a.latest
}

// Recorder returns the active recorder, if recording.
func (a *App) Recorder() *recorder.Recorder {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.rec
}

// Status implements server.StatusProvider.
func (a *App) Status() server.Status {
	a.mu.RLock()
	th, mon := a.thread, a.monitor
	a.mu.RUnlock()

	st := server.Status{
		Kind:   a.config.Camera.Kind.String(),
		Device: a.config.Camera.Device,
		Stereo: a.config.Camera.Stereo,
		State:  capture.ThreadCreated.String(),
	}
	if th != nil {
		st.ID = th.ID().String()
		st.State = th.State().String()
		st.Stats = th.Stats()
		if err := th.Err(); err != nil {
			st.Error = err.Error()
		}
	}
	if mon != nil {
		ms := mon.State()
		st.Motion = &ms
	}
	return st
}

// TrayStatus returns the status line shown in the tray.
func (a *App) TrayStatus() tray.Status {
	st := a.Status()
	return tray.Status{
		Kind:   st.Kind,
		State:  st.State,
		Frames: st.Stats.Frames,
		Motion: st.Motion != nil && st.Motion.Active,
	}
}
