// Package motion tracks scene activity on the left image of captured bundles.
package motion

import (
	"image"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// ErrDetectorClosed is returned by Detect after Close.
var ErrDetectorClosed = errors.New("detector closed")

// Detection constants.
const (
	// BlurSize is the Gaussian kernel size applied before differencing.
	BlurSize = 21
	// DiffThreshold is the per-pixel difference counted as change.
	DiffThreshold = 25
	// DefaultThreshold is the percentage of changed pixels that counts as motion.
	DefaultThreshold = 1.0
)

// Detector compares consecutive images by blurred frame differencing.
type Detector struct {
	threshold   float64
	prevGray    gocv.Mat
	initialized bool
	closed      bool
	mu          sync.Mutex
}

// NewDetector creates a Detector. threshold is the percentage of pixels that
// must change, so 1.0 means 1%.
func NewDetector(threshold float64) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Detector{
		threshold: threshold,
		prevGray:  gocv.NewMat(),
	}
}

// Detect compares img with the previous image and reports whether motion
// exceeds the threshold together with the changed percentage. The first image
// only sets the baseline. An image of a different size resets the baseline.
func (d *Detector) Detect(img image.Image) (bool, float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return false, 0, ErrDetectorClosed
	}
	if img == nil || img.Bounds().Empty() {
		return false, 0, nil
	}

	gray, err := toGray(img)
	if err != nil {
		return false, 0, err
	}
	defer gray.Close()

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Point{X: BlurSize, Y: BlurSize}, 0, 0, gocv.BorderDefault)

	if !d.initialized || d.prevGray.Rows() != blurred.Rows() || d.prevGray.Cols() != blurred.Cols() {
		blurred.CopyTo(&d.prevGray)
		d.initialized = true
		return false, 0, nil
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(blurred, d.prevGray, &diff)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(diff, &thresh, DiffThreshold, 255, gocv.ThresholdBinary)

	changed := float64(gocv.CountNonZero(thresh)) / float64(thresh.Rows()*thresh.Cols()) * 100.0

	blurred.CopyTo(&d.prevGray)
	return changed > d.threshold, changed, nil
}

func toGray(img image.Image) (gocv.Mat, error) {
	if g, ok := img.(*image.Gray); ok {
		m, err := gocv.ImageGrayToMatGray(g)
		return m, errors.Wrap(err, "convert gray image")
	}

	rgb, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.Mat{}, errors.Wrap(err, "convert image")
	}
	defer rgb.Close()

	gray := gocv.NewMat()
	gocv.CvtColor(rgb, &gray, gocv.ColorRGBToGray)
	return gray, nil
}

// Reset drops the baseline so the next image starts a new comparison.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.reset()
}

// Close releases the baseline image. Further calls are no-ops.
func (d *Detector) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.prevGray.Close()
	d.initialized = false
	d.closed = true
}

func (d *Detector) reset() {
	if !d.prevGray.Empty() {
		d.prevGray.Close()
		d.prevGray = gocv.NewMat()
	}
	d.initialized = false
}

// SetThreshold sets the motion threshold. Values less than or equal to 0 are
// ignored.
func (d *Detector) SetThreshold(threshold float64) {
	if threshold <= 0 {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.threshold = threshold
}

// Threshold returns the current motion threshold.
func (d *Detector) Threshold() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.threshold
}
