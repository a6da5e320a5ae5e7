package daemon

import (
	"log"

	"github.com/connor15mcc/patchpal/internal/protocol"
)

// Dispatcher routes recorded decisions back to the session that submitted
// the hunk. Implements registry.Notifier.
type Dispatcher struct {
	sessions *SessionManager
}

// NewDispatcher creates a dispatcher over the given session manager
func NewDispatcher(sessions *SessionManager) *Dispatcher {
	return &Dispatcher{sessions: sessions}
}

// NotifyDecision delivers one DecisionNotification to the owning session's
// outbound channel, preserving per-session FIFO order. A session that has
// disconnected gets nothing: the decision stays in the log, but there is no
// connection left to deliver it on. Never blocks.
func (d *Dispatcher) NotifyDecision(sessionID string, hunkID uint64, outcome protocol.Outcome) {
	s := d.sessions.Lookup(sessionID)
	if s == nil || s.State() != SessionConnected {
		log.Printf("Dropping decision notification for hunk %d: session %s is gone", hunkID, sessionID)
		return
	}
	s.send(&protocol.DecisionNotification{HunkID: hunkID, Outcome: outcome})
}
