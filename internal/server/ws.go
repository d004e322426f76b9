package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ayusman/drishti/internal/sink"
)

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// FrameMessage is the metadata pushed for every bundle.
type FrameMessage struct {
	Sequence  uint64 `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Stereo    bool   `json:"stereo"`
}

// StoppedMessage is the last message on a connection once capture ends.
type StoppedMessage struct {
	Stopped bool   `json:"stopped"`
	Error   string `json:"error,omitempty"`
}

// FramesHandler pushes bundle metadata to websocket clients.
type FramesHandler struct {
	latest *sink.Latest
	logger *zap.SugaredLogger
}

// NewFramesHandler creates a new FramesHandler reading from latest.
func NewFramesHandler(latest *sink.Latest, logger *zap.SugaredLogger) *FramesHandler {
	return &FramesHandler{latest: latest, logger: logger}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *FramesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reads only detect the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var seq uint64
	for {
		b, err := h.latest.Next(ctx, seq)
		if err == sink.ErrStopped {
			msg := StoppedMessage{Stopped: true}
			if cerr := h.latest.Err(); cerr != nil {
				msg.Error = cerr.Error()
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			conn.WriteJSON(msg)
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "capture stopped"))
			return
		}
		if err != nil {
			return
		}
		seq = b.Sequence

		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(FrameMessage{
			Sequence:  b.Sequence,
			Timestamp: b.Timestamp.UnixNano(),
			Width:     b.Left.Width,
			Height:    b.Left.Height,
			Stereo:    b.Stereo(),
		}); err != nil {
			h.logger.Debugw("websocket write failed", "error", err)
			return
		}
	}
}
