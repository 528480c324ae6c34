// Package server implements the relay: session lifecycle, registration, rooms
// and chat fan-out over WebSocket connections.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/semaphore"

	"github.com/NicolasHaas/gorelay/pkg/crypto"
	"github.com/NicolasHaas/gorelay/pkg/protocol"
	pb "github.com/NicolasHaas/gorelay/pkg/protocol/pb"
	"github.com/NicolasHaas/gorelay/pkg/store"
	"github.com/NicolasHaas/gorelay/pkg/version"
)

// Dependencies holds external dependencies for the server.
// Server assumes ownership of Journal and will Close() it on shutdown.
type Dependencies struct {
	Journal store.Journal    // nil = in-memory journal
	Logger  *slog.Logger     // nil = slog.Default()
	Now     func() time.Time // nil = time.Now().UTC()
}

// Server is the relay server.
type Server struct {
	cfg        Config
	state      *State
	sessions   *SessionManager
	registrar  *Registrar
	rooms      *Coordinator
	dispatcher *Dispatcher
	timeouts   *TimeoutSupervisor
	metrics    *Metrics
	journal    store.Journal
	logger     *slog.Logger
	upgrader   websocket.Upgrader

	httpSrv      *http.Server
	metricsSrv   *http.Server
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a new Server instance. The state store is created here and
// shared by every component.
func New(cfg Config, deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	journal := deps.Journal
	if journal == nil {
		journal = store.NewMemory()
	}

	ctx, cancel := context.WithCancel(context.Background())
	st := NewState(deps.Now)
	metrics := NewMetrics()
	audit := &auditor{journal: journal, metrics: metrics, logger: logger}

	s := &Server{
		cfg:     cfg,
		state:   st,
		metrics: metrics,
		journal: journal,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
	s.timeouts = &TimeoutSupervisor{
		st:       st,
		timeout:  cfg.RegistrationTimeout,
		schedule: afterFunc,
		metrics:  metrics,
		audit:    audit,
		logger:   logger,
	}
	s.sessions = &SessionManager{
		st:       st,
		timeouts: s.timeouts,
		metrics:  metrics,
		audit:    audit,
		logger:   logger,
	}
	digestSlots := cfg.MaxConcurrentDigests
	if digestSlots <= 0 {
		digestSlots = 1
	}
	s.registrar = &Registrar{
		ctx:             ctx,
		st:              st,
		serverName:      cfg.ServerName,
		serverPublicKey: cfg.ServerPublicKey,
		digest:          crypto.NewPasswordDigest,
		verify:          crypto.VerifyPassword,
		digests:         semaphore.NewWeighted(int64(digestSlots)),
		metrics:         metrics,
		audit:           audit,
		logger:          logger,
	}
	s.rooms = &Coordinator{
		st:      st,
		metrics: metrics,
		audit:   audit,
		logger:  logger,
	}
	s.dispatcher = &Dispatcher{
		sessions:  s.sessions,
		registrar: s.registrar,
		rooms:     s.rooms,
		metrics:   metrics,
		logger:    logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler returns the HTTP handler serving /ws and /info.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(protocol.WSPath, s.handleWS)
	mux.HandleFunc("/info", s.handleInfo)
	return mux
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(pb.ServerInfo{
		Alive:      true,
		ServerName: s.cfg.ServerName,
		Version:    version.String(),
	})
}

// State returns the shared state store.
func (s *Server) State() *State {
	return s.state
}

// Sessions returns the session manager.
func (s *Server) Sessions() *SessionManager {
	return s.sessions
}

// Dispatcher returns the request dispatcher.
func (s *Server) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Journal returns the audit journal.
func (s *Server) Journal() store.Journal {
	return s.journal
}
