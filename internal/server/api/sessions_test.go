package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/ayusman/drishti/internal/store"
)

// newTestStore creates a new Store with a temporary database for testing.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})

	return s
}

func seedSession(t *testing.T, s *store.Store, id string, frames int) {
	t.Helper()

	if err := s.Sessions().Create(&store.Session{ID: id, Kind: -1, Device: 0, Stereo: true}); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	var batch []store.Frame
	for i := 1; i <= frames; i++ {
		batch = append(batch, store.Frame{
			SessionID:   id,
			Sequence:    int64(i),
			TimestampNs: int64(i) * 1000,
			Width:       4,
			Height:      2,
			Stereo:      true,
			Left:        []byte{1, 2, 3},
			Right:       []byte{4, 5},
		})
	}
	if len(batch) > 0 {
		if err := s.Frames().Insert(batch); err != nil {
			t.Fatalf("failed to insert frames: %v", err)
		}
	}
	if err := s.Sessions().Finish(id, store.SessionStopped, int64(frames), 0, ""); err != nil {
		t.Fatalf("failed to finish session: %v", err)
	}
}

func TestSessionHandler_List(t *testing.T) {
	s := newTestStore(t)
	handler := NewSessionHandler(s)
	seedSession(t, s, "session-1", 2)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", ct)
	}

	var response listSessionsResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(response.Sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(response.Sessions))
	}
	got := response.Sessions[0]
	if got.ID != "session-1" || got.Status != "stopped" || got.Frames != 2 {
		t.Errorf("unexpected session %+v", got)
	}
	if got.StoppedAt == "" {
		t.Error("expected stopped_at to be set")
	}
}

func TestSessionHandler_ListEmpty(t *testing.T) {
	handler := NewSessionHandler(newTestStore(t))

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var response listSessionsResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Sessions == nil || len(response.Sessions) != 0 {
		t.Errorf("expected an empty list, got %v", response.Sessions)
	}
}

func TestSessionHandler_Get(t *testing.T) {
	s := newTestStore(t)
	handler := NewSessionHandler(s)
	seedSession(t, s, "session-1", 0)

	t.Run("existing session", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/sessions/session-1", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
		}
		var got sessionResponse
		if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if got.ID != "session-1" || !got.Stereo || got.Kind != -1 {
			t.Errorf("unexpected session %+v", got)
		}
	})

	t.Run("missing session", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/sessions/nope", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
		}
	})
}

func TestSessionHandler_Frames(t *testing.T) {
	s := newTestStore(t)
	handler := NewSessionHandler(s)
	seedSession(t, s, "session-1", 3)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/session-1/frames", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	var response listFramesResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(response.Frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(response.Frames))
	}
	for i, f := range response.Frames {
		if f.Sequence != int64(i+1) {
			t.Errorf("frames[%d].sequence = %d", i, f.Sequence)
		}
		if f.LeftBytes != 3 || f.RightBytes != 2 {
			t.Errorf("frames[%d] sizes = %d/%d", i, f.LeftBytes, f.RightBytes)
		}
	}

	req = httptest.NewRequest(http.MethodGet, "/api/sessions/missing/frames", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status %d for missing session, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestSessionHandler_GetStoredFrames(t *testing.T) {
	s := newTestStore(t)
	handler := NewSessionHandler(s)
	seedSession(t, s, "session-1", 4)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/session-1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	var got sessionResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.Stored != 4 {
		t.Errorf("expected 4 stored frames, got %d", got.Stored)
	}
}

func TestSessionHandler_FramesLargeImages(t *testing.T) {
	s := newTestStore(t)
	handler := NewSessionHandler(s)

	const size = 256 << 10
	if err := s.Sessions().Create(&store.Session{ID: "big", Kind: -1}); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	frames := []store.Frame{
		{SessionID: "big", Sequence: 1, Width: 640, Height: 480, Left: make([]byte, size)},
		{SessionID: "big", Sequence: 2, Width: 640, Height: 480, Stereo: true, Left: make([]byte, size), Right: make([]byte, size/2)},
	}
	if err := s.Frames().Insert(frames); err != nil {
		t.Fatalf("failed to insert frames: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/big/frames", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if rec.Body.Len() >= size {
		t.Errorf("expected a metadata-only body, got %d bytes", rec.Body.Len())
	}
	var response listFramesResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	tests := []struct {
		left, right int64
	}{
		{left: size, right: 0},
		{left: size, right: size / 2},
	}
	if len(response.Frames) != len(tests) {
		t.Fatalf("expected %d frames, got %d", len(tests), len(response.Frames))
	}
	for i, tt := range tests {
		f := response.Frames[i]
		if f.LeftBytes != tt.left || f.RightBytes != tt.right {
			t.Errorf("frames[%d] sizes = %d/%d, want %d/%d", i, f.LeftBytes, f.RightBytes, tt.left, tt.right)
		}
	}
}

func TestSessionHandler_Delete(t *testing.T) {
	s := newTestStore(t)
	handler := NewSessionHandler(s)
	seedSession(t, s, "session-1", 2)

	req := httptest.NewRequest(http.MethodDelete, "/api/sessions/session-1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, rec.Code)
	}

	n, err := s.Frames().CountBySession("session-1")
	if err != nil {
		t.Fatalf("failed to count frames: %v", err)
	}
	if n != 0 {
		t.Errorf("expected frames to be deleted with the session, got %d", n)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/sessions/session-1", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status %d on second delete, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestSessionHandler_MethodNotAllowed(t *testing.T) {
	handler := NewSessionHandler(newTestStore(t))

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/sessions"},
		{http.MethodPut, "/api/sessions/x"},
		{http.MethodDelete, "/api/sessions/x/frames"},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: expected status %d, got %d", tt.method, tt.path, http.StatusMethodNotAllowed, rec.Code)
		}
	}
}
