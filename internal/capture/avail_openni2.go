//go:build openni2

package capture

// hasOpenNI2 is set when the linked OpenCV was built with OpenNI2 support.
const hasOpenNI2 = true
