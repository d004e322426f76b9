package app

import (
	"context"
	"errors"
	"image"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ayusman/drishti/internal/capture"
	"github.com/ayusman/drishti/internal/motion"
	"github.com/ayusman/drishti/internal/store"
)

func rawEncoder(img image.Image) ([]byte, error) {
	g, ok := img.(*image.Gray)
	if !ok {
		return nil, errors.New("unexpected image type")
	}
	return append([]byte(nil), g.Pix...), nil
}

// fakeRegistry registers a fake USB camera; setup scripts each backend.
func fakeRegistry(setup func(*capture.FakeBackend)) *capture.Registry {
	return capture.NewRegistry(
		capture.FakeDescriptor(capture.KindUSB, true, setup),
		capture.FakeDescriptor(capture.KindFreenect, false, nil),
	)
}

func runApp(t *testing.T, a *App, ctx context.Context) error {
	t.Helper()

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return")
		return nil
	}
}

func TestApp_RunUntilFatal(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	a := New(Config{
		Registry: fakeRegistry(func(f *capture.FakeBackend) {
			f.SetError(4, capture.Fatal(capture.ErrDisconnected))
		}),
		Camera: capture.Config{Kind: capture.KindUSB},
		Logger: zap.New(core).Sugar(),
	})

	if err := a.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	err := runApp(t, a, context.Background())
	if !errors.Is(err, capture.ErrDisconnected) {
		t.Fatalf("Run() error = %v, want ErrDisconnected", err)
	}

	st := a.Status()
	if st.State != "stopped" {
		t.Errorf("state = %s, want stopped", st.State)
	}
	if st.Stats.Frames != 3 {
		t.Errorf("frames = %d, want 3", st.Stats.Frames)
	}
	if st.Error == "" || st.ID == "" {
		t.Errorf("status = %+v", st)
	}

	b, ok := a.Latest().Latest()
	if !ok || b.Sequence != 3 {
		t.Errorf("latest bundle = %d, %v", b.Sequence, ok)
	}

	if logs.FilterMessage("capture started").Len() != 1 {
		t.Error("expected a capture started log entry")
	}
}

func TestApp_CancelStopsCapture(t *testing.T) {
	a := New(Config{
		Registry: fakeRegistry(nil),
		Camera:   capture.Config{Kind: capture.KindUSB, Stereo: true},
	})
	if err := a.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for a.Status().Stats.Frames < 5 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	if err := runApp(t, a, ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	b, ok := a.Latest().Latest()
	if !ok || !b.Stereo() {
		t.Error("expected stereo bundles")
	}
	if a.Thread().State() != capture.ThreadStopped {
		t.Errorf("thread state = %v", a.Thread().State())
	}
}

func TestApp_StopEndsRun(t *testing.T) {
	a := New(Config{
		Registry: fakeRegistry(nil),
		Camera:   capture.Config{Kind: capture.KindUSB},
	})
	if err := a.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	go func() {
		for a.Status().Stats.Frames < 2 {
			time.Sleep(time.Millisecond)
		}
		a.Stop()
		a.Stop()
	}()

	if err := runApp(t, a, context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestApp_Record(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer st.Close()

	a := New(Config{
		Registry: fakeRegistry(func(f *capture.FakeBackend) {
			f.SetError(6, capture.Fatal(capture.ErrDisconnected))
		}),
		Camera:  capture.Config{Kind: capture.KindUSB, Device: 2},
		Store:   st,
		Record:  true,
		Encoder: rawEncoder,
	})
	if err := a.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := runApp(t, a, context.Background()); !errors.Is(err, capture.ErrDisconnected) {
		t.Fatalf("Run() error = %v", err)
	}

	id := a.Thread().ID().String()
	sess, err := st.Sessions().GetByID(id)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if sess.Status != store.SessionFailed || sess.Device != 2 {
		t.Errorf("session = %+v", sess)
	}
	if sess.Frames+sess.Dropped != 5 {
		t.Errorf("frames %d + dropped %d, want 5", sess.Frames, sess.Dropped)
	}
	if a.Recorder() == nil {
		t.Error("Recorder() should be set while recording")
	}
}

func TestApp_RunTwice(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer st.Close()

	a := New(Config{
		Registry:        fakeRegistry(nil),
		Camera:          capture.Config{Kind: capture.KindUSB},
		Store:           st,
		Record:          true,
		Encoder:         rawEncoder,
		MotionThreshold: 1,
		NewDetector:     func(float64) motion.ImageDetector { return &stillDetector{} },
	})
	if err := a.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first := make(chan error, 1)
	go func() { first <- a.Run(ctx) }()

	for a.Status().Stats.Frames < 2 {
		time.Sleep(time.Millisecond)
	}
	rec := a.Recorder()

	var le *capture.LifecycleError
	if err := a.Run(ctx); !errors.As(err, &le) {
		t.Fatalf("second Run() error = %v, want LifecycleError", err)
	}
	if a.Recorder() != rec {
		t.Error("second Run() replaced the recorder")
	}

	before := a.Status().Stats.Frames
	deadline := time.Now().Add(2 * time.Second)
	for a.Status().Stats.Frames <= before+2 {
		if time.Now().After(deadline) {
			t.Fatalf("capture stalled at %d frames after a second Run()", a.Status().Stats.Frames)
		}
		time.Sleep(time.Millisecond)
	}
	if state := a.Thread().State(); state != capture.ThreadRunning {
		t.Errorf("thread state = %v, want running", state)
	}

	cancel()
	select {
	case err := <-first:
		if err != nil {
			t.Errorf("first Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("first Run() did not return")
	}
}

type stillDetector struct {
	mu     sync.Mutex
	closed bool
}

func (d *stillDetector) Detect(image.Image) (bool, float64, error) { return true, 10, nil }

func (d *stillDetector) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
}

func TestApp_Motion(t *testing.T) {
	det := &stillDetector{}
	a := New(Config{
		Registry: fakeRegistry(func(f *capture.FakeBackend) {
			f.SetError(20, capture.Fatal(capture.ErrDisconnected))
		}),
		Camera:          capture.Config{Kind: capture.KindUSB},
		MotionThreshold: 1,
		NewDetector:     func(float64) motion.ImageDetector { return det },
	})
	if err := a.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := runApp(t, a, context.Background()); !errors.Is(err, capture.ErrDisconnected) {
		t.Fatalf("Run() error = %v", err)
	}

	st := a.Status()
	if st.Motion == nil || !st.Motion.Active {
		t.Errorf("motion = %+v, want active", st.Motion)
	}
	if !a.TrayStatus().Motion {
		t.Error("tray status should report motion")
	}

	det.mu.Lock()
	defer det.mu.Unlock()
	if !det.closed {
		t.Error("detector should be closed after Run")
	}
}

func TestApp_OpenErrors(t *testing.T) {
	t.Run("unavailable kind", func(t *testing.T) {
		a := New(Config{Registry: fakeRegistry(nil), Camera: capture.Config{Kind: capture.KindFreenect}})
		var ae *capture.AvailabilityError
		if err := a.Open(); !errors.As(err, &ae) {
			t.Errorf("Open() error = %v, want *AvailabilityError", err)
		}
		if a.Thread() != nil {
			t.Error("no thread should exist after a failed open")
		}
	})

	t.Run("init failure", func(t *testing.T) {
		a := New(Config{
			Registry: fakeRegistry(func(f *capture.FakeBackend) { f.SetInitError(errors.New("busy")) }),
			Camera:   capture.Config{Kind: capture.KindUSB},
		})
		var ie *capture.InitError
		if err := a.Open(); !errors.As(err, &ie) {
			t.Errorf("Open() error = %v, want *InitError", err)
		}
	})

	t.Run("run before open", func(t *testing.T) {
		a := New(Config{Registry: fakeRegistry(nil)})
		if err := a.Run(context.Background()); !errors.Is(err, ErrNotOpened) {
			t.Errorf("Run() error = %v, want ErrNotOpened", err)
		}
	})

	t.Run("open twice", func(t *testing.T) {
		a := New(Config{Registry: fakeRegistry(nil), Camera: capture.Config{Kind: capture.KindUSB}})
		if err := a.Open(); err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer a.Thread().Join(true)

		var le *capture.LifecycleError
		if err := a.Open(); !errors.As(err, &le) {
			t.Errorf("second Open() error = %v, want *LifecycleError", err)
		}
	})
}

func TestApp_StatusBeforeOpen(t *testing.T) {
	a := New(Config{Camera: capture.Config{Kind: capture.KindDC1394, Device: 1, Stereo: true}})

	st := a.Status()
	if st.State != "created" || st.Kind != capture.KindDC1394.String() || !st.Stereo {
		t.Errorf("status = %+v", st)
	}
	if st.Motion != nil {
		t.Error("motion should be absent when disabled")
	}
}
