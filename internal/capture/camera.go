package capture

import (
	"image"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// OpenCV videoio API preferences (cv::VideoCaptureAPIs).
const (
	apiAny        gocv.VideoCaptureAPI = 0
	apiFirewire   gocv.VideoCaptureAPI = 300
	apiOpenNI     gocv.VideoCaptureAPI = 900
	apiOpenNIAsus gocv.VideoCaptureAPI = 910
	apiOpenNI2    gocv.VideoCaptureAPI = 1600
)

// maxReadFailures is the number of consecutive failed reads after which a
// device that still reports itself open is considered disconnected.
const maxReadFailures = 30

// depthRangeMM scales 16-bit depth maps into 8-bit images.
const depthRangeMM = 4096.0

// videoBackend captures through an OpenCV VideoCapture. The API preference
// selects the hardware family.
type videoBackend struct {
	cfg    Config
	opts   BackendOptions
	api    gocv.VideoCaptureAPI
	stereo bool

	mu       sync.Mutex
	state    BackendState
	capture  *gocv.VideoCapture
	failures int
}

func videoFactory(api gocv.VideoCaptureAPI, support StereoSupport) Factory {
	return func(cfg Config, opts BackendOptions) Backend {
		opts = opts.withDefaults()
		stereo := cfg.Stereo
		switch {
		case support == MonoOnly && cfg.Stereo:
			opts.Logger.Warnw("stereo is not supported by this backend, capturing mono", "kind", cfg.Kind)
			stereo = false
		case support == StereoOnly:
			stereo = true
		}
		return &videoBackend{
			cfg:    cfg,
			opts:   opts,
			api:    api,
			stereo: stereo,
		}
	}
}

// Init opens the device and applies the requested geometry.
func (v *videoBackend) Init() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state != BackendUninitialized {
		return &LifecycleError{Op: "init", State: v.state.String()}
	}

	capture, err := gocv.OpenVideoCaptureWithAPI(v.cfg.Device, v.api)
	if err != nil {
		return &InitError{Kind: v.cfg.Kind, Device: v.cfg.Device, Err: err}
	}
	if !capture.IsOpened() {
		capture.Close()
		return &InitError{Kind: v.cfg.Kind, Device: v.cfg.Device, Err: ErrCameraNotOpen}
	}

	if v.opts.Width > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(v.opts.Width))
	}
	if v.opts.Height > 0 {
		capture.Set(gocv.VideoCaptureFrameHeight, float64(v.opts.Height))
	}
	if v.opts.FPS > 0 {
		capture.Set(gocv.VideoCaptureFPS, v.opts.FPS)
	}

	v.capture = capture
	v.state = BackendInitialized
	v.opts.Logger.Infow("camera opened", "kind", v.cfg.Kind, "device", v.cfg.Device, "stereo", v.stereo)
	return nil
}

// CaptureNext reads one frame. With stereo enabled the frame is expected to
// hold the left and right images side by side.
func (v *videoBackend) CaptureNext() (Bundle, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state != BackendInitialized {
		return Bundle{}, &LifecycleError{Op: "capture", State: v.state.String()}
	}

	mat := gocv.NewMat()
	defer mat.Close()

	if ok := v.capture.Read(&mat); !ok {
		v.failures++
		if !v.capture.IsOpened() || v.failures >= maxReadFailures {
			return Bundle{}, Fatal(ErrDisconnected)
		}
		return Bundle{}, Recoverable(ErrTimeout)
	}
	if mat.Empty() {
		v.failures++
		if v.failures >= maxReadFailures {
			return Bundle{}, Fatal(ErrDisconnected)
		}
		return Bundle{}, Recoverable(ErrEmptyFrame)
	}
	v.failures = 0
	ts := v.opts.Clock.Now()

	if !v.stereo {
		img, err := matImage(&mat)
		if err != nil {
			return Bundle{}, Recoverable(err)
		}
		return NewMonoBundle(ts, img), nil
	}

	half := mat.Cols() / 2
	left := mat.Region(image.Rect(0, 0, half, mat.Rows()))
	defer left.Close()
	right := mat.Region(image.Rect(half, 0, 2*half, mat.Rows()))
	defer right.Close()

	limg, err := matImage(&left)
	if err != nil {
		return Bundle{}, Recoverable(err)
	}
	rimg, err := matImage(&right)
	if err != nil {
		return Bundle{}, Recoverable(err)
	}
	return NewStereoBundle(ts, limg, rimg), nil
}

// Close releases the capture device.
func (v *videoBackend) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state == BackendClosed {
		return nil
	}
	v.state = BackendClosed
	if v.capture == nil {
		return nil
	}

	err := v.capture.Close()
	v.capture = nil
	v.opts.Logger.Infow("camera closed", "kind", v.cfg.Kind, "device", v.cfg.Device)
	return err
}

// matImage copies a Mat into an image.Image, scaling depth maps to 8 bits.
func matImage(m *gocv.Mat) (image.Image, error) {
	switch m.Type() {
	case gocv.MatTypeCV8UC1, gocv.MatTypeCV8UC3, gocv.MatTypeCV8UC4:
		img, err := m.ToImage()
		return img, errors.Wrap(err, "convert frame")
	}

	scaled := gocv.NewMat()
	defer scaled.Close()
	m.ConvertToWithParams(&scaled, gocv.MatTypeCV8U, float32(255.0/depthRangeMM), 0)
	img, err := scaled.ToImage()
	return img, errors.Wrap(err, "convert depth frame")
}

// unlinkedBackend stands in for hardware families whose drivers are not part
// of this build. Its descriptor is never available; Init fails once and the
// backend is closed after it.
type unlinkedBackend struct {
	cfg   Config
	state BackendState
}

func unlinkedFactory(cfg Config, _ BackendOptions) Backend {
	return &unlinkedBackend{cfg: cfg}
}

func (u *unlinkedBackend) Init() error {
	if u.state != BackendUninitialized {
		return &LifecycleError{Op: "init", State: u.state.String()}
	}
	// A failed Init leaves nothing to reuse.
	u.state = BackendClosed
	return &InitError{Kind: u.cfg.Kind, Device: u.cfg.Device, Err: &AvailabilityError{Kind: u.cfg.Kind}}
}

func (u *unlinkedBackend) CaptureNext() (Bundle, error) {
	return Bundle{}, &LifecycleError{Op: "capture", State: u.state.String()}
}

func (u *unlinkedBackend) Close() error {
	u.state = BackendClosed
	return nil
}
