//go:build !dc1394

package capture

const hasDC1394 = false
