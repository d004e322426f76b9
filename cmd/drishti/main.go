// Package main is the drishti command: it captures from one camera backend
// and serves a live preview.
package main

import (
	"os"
)

func main() {
	os.Exit(run(os.Args))
}
