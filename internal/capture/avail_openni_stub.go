//go:build !openni

package capture

const hasOpenNI = false
