package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ayusman/drishti/internal/capture"
)

func bundle(seq uint64) capture.Bundle {
	return capture.Bundle{Sequence: seq, Timestamp: time.Unix(0, int64(seq))}
}

func TestLatest_KeepsNewest(t *testing.T) {
	l := NewLatest()

	if _, ok := l.Latest(); ok {
		t.Fatal("empty sink should have no bundle")
	}

	for i := uint64(1); i <= 5; i++ {
		l.Deliver(bundle(i))
	}

	b, ok := l.Latest()
	if !ok || b.Sequence != 5 {
		t.Errorf("Latest() = %d/%v, want 5/true", b.Sequence, ok)
	}
}

func TestLatest_NextWaitsForNewer(t *testing.T) {
	l := NewLatest()
	l.Deliver(bundle(1))

	got := make(chan uint64, 1)
	go func() {
		b, err := l.Next(context.Background(), 1)
		if err != nil {
			got <- 0
			return
		}
		got <- b.Sequence
	}()

	select {
	case <-got:
		t.Fatal("Next() returned before a newer bundle arrived")
	case <-time.After(20 * time.Millisecond):
	}

	l.Deliver(bundle(2))
	select {
	case seq := <-got:
		if seq != 2 {
			t.Errorf("Next() = %d, want 2", seq)
		}
	case <-time.After(time.Second):
		t.Fatal("Next() did not wake up")
	}
}

func TestLatest_NextAfterStop(t *testing.T) {
	l := NewLatest()
	cause := errors.New("unplugged")
	l.CaptureStopped(cause)
	l.CaptureStopped(nil)

	if _, err := l.Next(context.Background(), 0); !errors.Is(err, ErrStopped) {
		t.Errorf("Next() error = %v, want ErrStopped", err)
	}
	if !errors.Is(l.Err(), cause) {
		t.Errorf("Err() = %v, want %v", l.Err(), cause)
	}
}

func TestLatest_NextContextCanceled(t *testing.T) {
	l := NewLatest()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := l.Next(ctx, 0); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Next() error = %v, want deadline exceeded", err)
	}
}

func TestChannel_DropsWhenFull(t *testing.T) {
	c := NewChannel(2)

	for i := uint64(1); i <= 5; i++ {
		c.Deliver(bundle(i))
	}
	if c.Dropped() != 3 {
		t.Errorf("Dropped() = %d, want 3", c.Dropped())
	}

	c.CaptureStopped(nil)
	c.CaptureStopped(nil)

	var seqs []uint64
	for b := range c.C() {
		seqs = append(seqs, b.Sequence)
	}
	if len(seqs) != 2 || seqs[0] != 1 || seqs[1] != 2 {
		t.Errorf("received %v, want [1 2]", seqs)
	}
}

func TestMulti_FansOut(t *testing.T) {
	l := NewLatest()
	c := NewChannel(4)
	var fn []uint64
	m := Multi{l, c, capture.SinkFunc(func(b capture.Bundle) { fn = append(fn, b.Sequence) })}

	m.Deliver(bundle(1))
	m.Deliver(bundle(2))
	m.CaptureStopped(nil)

	if b, _ := l.Latest(); b.Sequence != 2 {
		t.Errorf("latest = %d, want 2", b.Sequence)
	}
	if len(fn) != 2 {
		t.Errorf("func sink got %d bundles, want 2", len(fn))
	}
	n := 0
	for range c.C() {
		n++
	}
	if n != 2 {
		t.Errorf("channel sink got %d bundles, want 2", n)
	}
}

func TestSinks_WithCaptureThread(t *testing.T) {
	reg := capture.NewRegistry(capture.FakeDescriptor(capture.KindUSB, true, func(f *capture.FakeBackend) {
		f.SetError(4, capture.Fatal(capture.ErrDisconnected))
	}))
	b, err := capture.Prepare(reg, capture.Config{Kind: capture.KindUSB}, capture.BackendOptions{})
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	l := NewLatest()
	c := NewChannel(16)
	th := capture.NewThread(b)
	if err := th.Start(Multi{l, c}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var seqs []uint64
	for b := range c.C() {
		seqs = append(seqs, b.Sequence)
	}
	if len(seqs) != 3 {
		t.Fatalf("received %v, want 3 bundles", seqs)
	}
	if !errors.Is(c.Err(), capture.ErrDisconnected) {
		t.Errorf("Err() = %v, want ErrDisconnected", c.Err())
	}
	if _, err := l.Next(context.Background(), 3); !errors.Is(err, ErrStopped) {
		t.Errorf("Next() error = %v, want ErrStopped", err)
	}
	if err := th.Join(false); !errors.Is(err, capture.ErrDisconnected) {
		t.Errorf("Join() error = %v", err)
	}
}
