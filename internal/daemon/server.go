// Package daemon is the server side of patchpal: the WebSocket transport
// listener, the per-connection session layer, the decision dispatcher, and
// the console boundary the review TUI drives.
package daemon

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"

	"github.com/connor15mcc/patchpal/internal/config"
	"github.com/connor15mcc/patchpal/internal/registry"
	"github.com/connor15mcc/patchpal/internal/storage"
	"github.com/connor15mcc/patchpal/internal/version"
)

// Server accepts client connections and frames protocol messages into the
// session layer. One goroutine per connection; the registry is the only
// shared state and serializes internally.
type Server struct {
	cfg        *config.Config
	reg        *registry.Registry
	sessions   *SessionManager
	archive    *storage.DB
	httpServer *http.Server
	ln         net.Listener
	startTime  time.Time
}

// NewServer wires the transport, session manager, and dispatcher around an
// existing registry.
func NewServer(reg *registry.Registry, cfg *config.Config) *Server {
	sessions := NewSessionManager(reg, cfg.SessionBuffer, time.Duration(cfg.HeartbeatIntervalSecs)*time.Second)
	reg.SetNotifier(NewDispatcher(sessions))

	s := &Server{
		cfg:       cfg,
		reg:       reg,
		sessions:  sessions,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/decisions", s.handleDecisions)

	s.httpServer = &http.Server{Handler: mux}
	return s
}

// Sessions exposes the session manager (for the dispatcher and tests)
func (s *Server) Sessions() *SessionManager { return s.sessions }

// SetArchive attaches the decision log so the HTTP surface can serve
// history. Optional; without it /decisions reports unavailable.
func (s *Server) SetArchive(db *storage.DB) { s.archive = db }

// Listen binds the configured address. Bind failure is the one fatal
// startup condition; callers should exit on error.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	s.ln = ln
	return nil
}

// Addr returns the bound listen address. Only valid after Listen.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.cfg.ListenAddr
	}
	return s.ln.Addr().String()
}

// Serve accepts connections until Stop. Blocks.
func (s *Server) Serve() error {
	log.Printf("Listening on %s", s.Addr())
	if err := s.httpServer.Serve(s.ln); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop tears down sessions and shuts the listener down gracefully
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Closing sessions first unblocks their read loops so Shutdown can
	// finish draining handlers
	s.sessions.CloseAll()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		return err
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Printf("Warning: websocket accept from %s: %v", r.RemoteAddr, err)
		return
	}
	conn.SetReadLimit(s.cfg.MaxPatchBytes)

	s.sessions.Serve(r.Context(), conn)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := s.reg.Snapshot()
	health := map[string]any{
		"version":   version.Version,
		"uptime":    time.Since(s.startTime).Round(time.Second).String(),
		"sessions":  s.sessions.Count(),
		"pending":   snap.Pending,
		"decided":   snap.Decided,
		"cancelled": snap.Cancelled,
	}
	if s.archive != nil {
		if n, err := s.archive.PatchCount(); err == nil {
			health["archived_patches"] = n
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.archive == nil {
		http.Error(w, "no decision log attached", http.StatusServiceUnavailable)
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	records, err := s.archive.RecentDecisions(limit)
	if err != nil {
		log.Printf("Warning: query decision log: %v", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []storage.DecisionRecord{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}
