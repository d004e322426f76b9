package capture

import (
	"image"
	"time"
)

// Frame is one captured image.
type Frame struct {
	Image  image.Image
	Width  int
	Height int
}

// NewFrame wraps img, taking its dimensions from the image bounds.
func NewFrame(img image.Image) Frame {
	b := img.Bounds()
	return Frame{Image: img, Width: b.Dx(), Height: b.Dy()}
}

// Bundle is the result of one capture: a single image in mono mode or a
// synchronized left/right pair in stereo mode. Bundles are not modified after
// they are delivered.
type Bundle struct {
	Sequence  uint64
	Timestamp time.Time
	Left      Frame
	Right     *Frame
}

// NewMonoBundle builds a bundle carrying a single image.
func NewMonoBundle(ts time.Time, img image.Image) Bundle {
	return Bundle{Timestamp: ts, Left: NewFrame(img)}
}

// NewStereoBundle builds a bundle carrying a left/right pair.
func NewStereoBundle(ts time.Time, left, right image.Image) Bundle {
	r := NewFrame(right)
	return Bundle{Timestamp: ts, Left: NewFrame(left), Right: &r}
}

// Stereo reports whether the bundle carries a pair.
func (b Bundle) Stereo() bool {
	return b.Right != nil
}

// Sink receives bundles from a capture thread. Deliver is called from the
// capture goroutine, one bundle at a time and in capture order, and must not
// block for long: implementations buffer or drop.
type Sink interface {
	Deliver(b Bundle)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(b Bundle)

// Deliver calls f(b).
func (f SinkFunc) Deliver(b Bundle) { f(b) }

// StopObserver is an optional Sink extension. CaptureStopped is called once
// when the capture loop exits, with the error that ended it or nil after a
// requested stop.
type StopObserver interface {
	CaptureStopped(err error)
}
