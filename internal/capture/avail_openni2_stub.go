//go:build !openni2

package capture

const hasOpenNI2 = false
