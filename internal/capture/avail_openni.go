//go:build openni

package capture

// hasOpenNI is set when the linked OpenCV was built with OpenNI support.
const hasOpenNI = true
