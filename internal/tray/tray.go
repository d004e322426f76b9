// Package tray provides a system tray menu for a running capture.
package tray

import (
	"fmt"
	"sync"
	"time"

	"github.com/getlantern/systray"
)

// DefaultRefresh is how often the status line is refreshed.
const DefaultRefresh = time.Second

// Status is the information shown in the tray status line.
type Status struct {
	Kind   string
	State  string
	Frames uint64
	Motion bool
}

// Format renders s for the menu.
func (s Status) Format() string {
	line := fmt.Sprintf("%s: %s, %d frames", s.Kind, s.State, s.Frames)
	if s.Motion {
		line += ", motion"
	}
	return line
}

// Tray represents the system tray application.
type Tray struct {
	status  func() Status
	onStop  func()
	onOpen  func()
	onQuit  func()
	refresh time.Duration
	stopped bool
	mu      sync.RWMutex

	menuStatus *systray.MenuItem
	menuStop   *systray.MenuItem
	done       chan struct{}
}

// New creates a new Tray that polls status for its status line.
func New(status func() Status) *Tray {
	return &Tray{
		status:  status,
		refresh: DefaultRefresh,
		done:    make(chan struct{}),
	}
}

// OnStop sets the callback for the "Stop capture" item.
func (t *Tray) OnStop(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStop = fn
}

// OnOpen sets the callback for the "Open preview" item.
func (t *Tray) OnOpen(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOpen = fn
}

// OnQuit sets the callback for the quit item.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until Quit is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit closes the tray from outside the menu.
func (t *Tray) Quit() {
	systray.Quit()
}

func (t *Tray) onReady() {
	systray.SetTitle("Drishti")
	systray.SetTooltip("Drishti camera capture")

	t.menuStatus = systray.AddMenuItem("Starting...", "Capture status")
	t.menuStatus.Disable()
	systray.AddSeparator()

	t.menuStop = systray.AddMenuItem("Stop capture", "Stop the capture loop")
	menuOpen := systray.AddMenuItem("Open preview...", "Open the preview in a browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit Drishti")

	go t.refreshLoop()

	go func() {
		for {
			select {
			case <-t.menuStop.ClickedCh:
				t.handleStop()
			case <-menuOpen.ClickedCh:
				t.handleOpen()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {
	close(t.done)
}

func (t *Tray) refreshLoop() {
	ticker := time.NewTicker(t.refresh)
	defer ticker.Stop()

	for {
		t.updateStatus()
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}
	}
}

func (t *Tray) updateStatus() {
	if t.status == nil {
		return
	}
	line := t.status().Format()

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.menuStatus != nil {
		t.menuStatus.SetTitle(line)
	}
}

// handleStop runs the stop callback once and disables the item.
func (t *Tray) handleStop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	if t.menuStop != nil {
		t.menuStop.Disable()
	}
	callback := t.onStop
	t.mu.Unlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback()
	}
}

func (t *Tray) handleOpen() {
	t.mu.RLock()
	callback := t.onOpen
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// Stopped reports whether "Stop capture" was used.
func (t *Tray) Stopped() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stopped
}
