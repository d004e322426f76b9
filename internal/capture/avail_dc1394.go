//go:build dc1394

package capture

// hasDC1394 is set when the linked OpenCV was built with libdc1394 support.
const hasDC1394 = true
