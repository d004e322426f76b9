package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ayusman/drishti/internal/sink"
)

// StreamHandler serves the left image of each new bundle as MJPEG.
type StreamHandler struct {
	latest   *sink.Latest
	encode   Encoder
	interval time.Duration
}

// NewStreamHandler creates a new StreamHandler reading from latest. A
// positive maxFPS caps the frame rate per client.
func NewStreamHandler(latest *sink.Latest, encode Encoder, maxFPS float64) *StreamHandler {
	h := &StreamHandler{latest: latest, encode: encode}
	if maxFPS > 0 {
		h.interval = time.Duration(float64(time.Second) / maxFPS)
	}
	return h
}

// ServeHTTP streams MJPEG frames until the client leaves or capture stops.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx := r.Context()
	var seq uint64
	for {
		b, err := h.latest.Next(ctx, seq)
		if err != nil {
			// Closing boundary; a client disconnect makes this a no-op.
			fmt.Fprintf(w, "--frame--\r\n")
			return
		}
		seq = b.Sequence

		buf, err := h.encode(b.Left.Image)
		if err != nil {
			continue
		}

		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(buf))
		w.Write(buf)
		fmt.Fprintf(w, "\r\n")

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}

		if h.interval > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(h.interval):
			}
		}
	}
}
