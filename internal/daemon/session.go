package daemon

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/connor15mcc/patchpal/internal/protocol"
	"github.com/connor15mcc/patchpal/internal/registry"
)

// SessionState is the connectivity state of a client session
type SessionState int

const (
	SessionConnected SessionState = iota
	SessionDisconnected
)

// Session is one connected client. Outbound traffic goes through a private
// buffered channel drained by a writer goroutine, so responses and decision
// notifications are always scoped to the session that owns them and are
// delivered in FIFO order.
type Session struct {
	ID      string
	RepoRef string // repo ref of the session's first submission, for display

	conn *websocket.Conn
	out  chan protocol.Message

	mu    sync.Mutex
	state SessionState
}

// State returns the session's connectivity state
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) markDisconnected() {
	s.mu.Lock()
	s.state = SessionDisconnected
	s.mu.Unlock()
}

// send enqueues a message for the writer goroutine. Never blocks: a full
// buffer drops the message so one slow connection cannot stall the caller.
// Reports whether the message was enqueued.
func (s *Session) send(msg protocol.Message) bool {
	if s.State() != SessionConnected {
		return false
	}
	select {
	case s.out <- msg:
		return true
	default:
		log.Printf("Warning: session %s outbound buffer full, dropping %s", s.ID, msg.Type())
		return false
	}
}

// SessionManager tracks every live session and runs their read/write loops
type SessionManager struct {
	reg    *registry.Registry
	buffer int
	// Read deadline: a session silent for this long is treated as dead
	idleTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionManager creates an empty session manager
func NewSessionManager(reg *registry.Registry, buffer int, heartbeatInterval time.Duration) *SessionManager {
	return &SessionManager{
		reg:         reg,
		buffer:      buffer,
		idleTimeout: 3 * heartbeatInterval,
		sessions:    make(map[string]*Session),
	}
}

// Lookup returns a session by id, or nil if it is not registered
func (m *SessionManager) Lookup(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

// Count returns the number of live sessions
func (m *SessionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *SessionManager) register(conn *websocket.Conn) *Session {
	s := &Session{
		ID:    uuid.New().String(),
		conn:  conn,
		out:   make(chan protocol.Message, m.buffer),
		state: SessionConnected,
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

func (m *SessionManager) unregister(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Serve runs a session until its connection drops, the context is
// cancelled, or a protocol violation terminates it. Always ends by
// cancelling the session's outstanding hunks.
func (m *SessionManager) Serve(ctx context.Context, conn *websocket.Conn) {
	s := m.register(conn)
	log.Printf("Session %s connected", s.ID)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.writeLoop(ctx, s)
	}()

	err := m.readLoop(ctx, s)

	s.markDisconnected()
	cancel()
	wg.Wait()
	m.unregister(s.ID)

	// Invariant 4: every hunk of a lost session reaches a terminal state
	if cancelled := m.reg.CancelSession(s.ID); len(cancelled) > 0 {
		log.Printf("Session %s gone, cancelled %d outstanding hunk(s)", s.ID, len(cancelled))
	}

	var perr *protocol.ProtocolError
	switch {
	case err == nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure:
		log.Printf("Session %s disconnected", s.ID)
		conn.Close(websocket.StatusNormalClosure, "")
	case errors.As(err, &perr):
		log.Printf("Session %s protocol error: %v", s.ID, perr)
		// Best effort: tell the client why before terminating
		if frame, encErr := protocol.Encode(&protocol.SubmitError{
			Kind:   protocol.ErrKindProtocolError,
			Detail: perr.Detail,
		}); encErr == nil {
			writeCtx, wcancel := context.WithTimeout(context.Background(), 2*time.Second)
			conn.Write(writeCtx, websocket.MessageBinary, frame)
			wcancel()
		}
		conn.Close(websocket.StatusProtocolError, perr.Detail)
	default:
		log.Printf("Session %s lost: %v", s.ID, err)
		conn.Close(websocket.StatusAbnormalClosure, "session lost")
	}
}

// readLoop decodes inbound frames until an error. Each read carries the
// idle deadline; heartbeat or any other traffic resets it.
func (m *SessionManager) readLoop(ctx context.Context, s *Session) error {
	for {
		readCtx, cancel := context.WithTimeout(ctx, m.idleTimeout)
		typ, frame, err := s.conn.Read(readCtx)
		cancel()
		if err != nil {
			if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
				return errors.New("heartbeat timeout")
			}
			return err
		}
		if typ != websocket.MessageBinary {
			return &protocol.ProtocolError{Detail: "non-binary frame"}
		}

		msg, err := protocol.Decode(frame)
		if err != nil {
			return err
		}

		switch req := msg.(type) {
		case *protocol.SubmitRequest:
			if err := m.handleSubmit(s, req); err != nil {
				return err
			}
		case protocol.Heartbeat:
			s.send(protocol.Heartbeat{})
		default:
			return &protocol.ProtocolError{Detail: "unexpected " + msg.Type().String() + " from client"}
		}
	}
}

// handleSubmit forwards a submission to the registry and streams the
// result back on this session's outbound channel. Duplicate submissions
// are recoverable; anything malformed terminates the session.
func (m *SessionManager) handleSubmit(s *Session, req *protocol.SubmitRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if s.RepoRef == "" {
		s.RepoRef = req.RepoRef
	}

	res, err := m.reg.Submit(s.ID, req.RepoRef, req.Metadata, req.Hunks)
	if err != nil {
		var dup *registry.DuplicateSubmissionError
		if errors.As(err, &dup) {
			s.send(&protocol.SubmitError{
				Kind:            protocol.ErrKindDuplicateSubmission,
				Detail:          err.Error(),
				ExistingPatchID: dup.ExistingPatchID,
			})
			return nil
		}
		return err
	}

	log.Printf("Session %s submitted patch %d (%d hunks) for %s", s.ID, res.PatchID, len(res.HunkIDs), req.RepoRef)
	s.send(&protocol.SubmitResponse{PatchID: res.PatchID, HunkIDs: res.HunkIDs})
	return nil
}

// writeLoop drains the outbound channel onto the wire
func (m *SessionManager) writeLoop(ctx context.Context, s *Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.out:
			frame, err := protocol.Encode(msg)
			if err != nil {
				log.Printf("Warning: session %s encode %s: %v", s.ID, msg.Type(), err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err = s.conn.Write(writeCtx, websocket.MessageBinary, frame)
			cancel()
			if err != nil {
				s.markDisconnected()
				return
			}
		}
	}
}

// CloseAll tears down every session during shutdown
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.markDisconnected()
		s.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}
