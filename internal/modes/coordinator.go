// Package modes serializes backend-mode transitions against the batch
// orchestrator's single-flight discipline. The coordinator owns the one
// "is a batch in flight" flag both components consult, which guarantees
// a batch never observes two different backends mid-flight.
package modes

import (
	"sync"

	"go.uber.org/zap"

	"github.com/Cris-z123/mailCopilot-sub001/internal/extraction"
)

// NotificationType enumerates the events published to the UI boundary.
type NotificationType string

const (
	NoteModeChanged     NotificationType = "mode-changed"
	NoteSwitchQueued    NotificationType = "mode-switch-queued"
	NoteSwitchCancelled NotificationType = "mode-switch-cancelled"
)

// Notification is one mode event. From/To are empty for cancellations.
type Notification struct {
	Type NotificationType `json:"type"`
	From extraction.Mode  `json:"from,omitempty"`
	To   extraction.Mode  `json:"to,omitempty"`
}

// State is a snapshot of the process-wide mode state.
type State struct {
	CurrentMode  extraction.Mode  `json:"currentMode"`
	PendingMode  *extraction.Mode `json:"pendingMode"`
	IsProcessing bool             `json:"isProcessing"`
}

// notificationBuffer bounds the event channel; a slow consumer drops
// events rather than blocking the orchestration flow.
const notificationBuffer = 16

// Coordinator is the single serialization point for mode switches.
// One live instance per application lifetime.
type Coordinator struct {
	mu         sync.Mutex
	current    extraction.Mode
	pending    *extraction.Mode
	processing bool

	notes chan Notification
	log   *zap.Logger
}

func New(initial extraction.Mode, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		current: initial,
		notes:   make(chan Notification, notificationBuffer),
		log:     log,
	}
}

// Current returns the active mode.
func (c *Coordinator) Current() extraction.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// State returns a snapshot for the status boundary.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := State{CurrentMode: c.current, IsProcessing: c.processing}
	if c.pending != nil {
		p := *c.pending
		s.PendingMode = &p
	}
	return s
}

// TryAcquire is the orchestrator's single-flight lock: it succeeds only
// when no batch is in flight. The caller must Release when done.
func (c *Coordinator) TryAcquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.processing {
		return false
	}
	c.processing = true
	return true
}

// Release marks the in-flight batch complete and applies any pending
// switch the instant the batch finishes.
func (c *Coordinator) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processing = false
	if c.pending == nil {
		return
	}
	target := *c.pending
	c.pending = nil
	c.applyLocked(target)
}

// RequestSwitch changes the backend mode. Idle: applies immediately.
// In flight: recorded as pending, applied on batch completion; a second
// request overwrites the pending target rather than queuing both.
func (c *Coordinator) RequestSwitch(target extraction.Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.processing {
		c.applyLocked(target)
		return
	}

	c.pending = &target
	c.log.Info("mode switch queued behind in-flight batch",
		zap.String("from", string(c.current)), zap.String("to", string(target)))
	c.emit(Notification{Type: NoteSwitchQueued, From: c.current, To: target})
}

// CancelPending drops a queued switch before it takes effect. No
// mode-changed event fires.
func (c *Coordinator) CancelPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return
	}
	c.pending = nil
	c.emit(Notification{Type: NoteSwitchCancelled})
}

// Notifications is the event stream consumed by the UI boundary.
func (c *Coordinator) Notifications() <-chan Notification {
	return c.notes
}

func (c *Coordinator) applyLocked(target extraction.Mode) {
	if target == c.current {
		return
	}
	from := c.current
	c.current = target
	c.log.Info("mode changed", zap.String("from", string(from)), zap.String("to", string(target)))
	c.emit(Notification{Type: NoteModeChanged, From: from, To: target})
}

func (c *Coordinator) emit(n Notification) {
	select {
	case c.notes <- n:
	default:
		c.log.Warn("notification dropped, consumer too slow", zap.String("type", string(n.Type)))
	}
}
