// Package server is the embedded remote-access core: HTTP + WebSocket
// endpoints, the PTY bridge, the state broadcaster, and the host command
// bridge.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"cmux-remote-backend/config"
	"cmux-remote-backend/host"
	"cmux-remote-backend/models"
	"cmux-remote-backend/netutil"
	"cmux-remote-backend/ptyterm"
	"cmux-remote-backend/tmuxctl"
)

// Version is reported by GET /api/status.
const Version = "1.0.0"

const (
	bindAttempts  = 3
	bindRetryWait = 500 * time.Millisecond

	stateInterval = 2 * time.Second
	pingInterval  = 30 * time.Second
	reapInterval  = 15 * time.Second

	tmuxSnapshotTTL = 10 * time.Second
)

// Server is the process-wide embedded server. Construct with New (injected
// collaborators) and drive with Start/Stop.
type Server struct {
	cfg    config.Config
	bridge host.Bridge
	exec   *host.Executor
	tmux   *tmuxctl.Coordinator
	ptys   *ptyterm.Manager

	httpSrv   *http.Server
	running   atomic.Bool
	startedAt time.Time

	// Owned by the executor loop; never touched from network workers.
	stateClients map[*stateClient]bool

	// Cached tmux snapshot, written on the executor loop after a background
	// refresh.
	tmuxSnapshot    []models.TmuxSessionInfo
	tmuxRefreshedAt time.Time
	tmuxRefreshing  bool

	tickersStop chan struct{}
	watcher     *fsnotify.Watcher
}

// New wires a server from its collaborators.
func New(cfg config.Config, bridge host.Bridge, exec *host.Executor, tmux *tmuxctl.Coordinator, ptys *ptyterm.Manager) *Server {
	return &Server{
		cfg:          cfg,
		bridge:       bridge,
		exec:         exec,
		tmux:         tmux,
		ptys:         ptys,
		stateClients: make(map[*stateClient]bool),
		tickersStop:  make(chan struct{}),
	}
}

// Running reports whether the listener is bound.
func (s *Server) Running() bool {
	return s.running.Load()
}

// Port returns the configured listen port.
func (s *Server) Port() int {
	return s.cfg.Port
}

// Start evicts stale holders of the port, binds 0.0.0.0:<port> with retries,
// and launches the serve loop plus the periodic timers. On final bind failure
// the error is returned and the server stays stopped.
func (s *Server) Start() error {
	netutil.ReleasePort(s.cfg.Port)

	addr := fmt.Sprintf("0.0.0.0:%d", s.cfg.Port)
	var ln net.Listener
	var err error
	for attempt := 1; attempt <= bindAttempts; attempt++ {
		ln, err = net.Listen("tcp", addr)
		if err == nil {
			break
		}
		log.Printf("[Server] Bind attempt %d/%d on %s failed: %v", attempt, bindAttempts, addr, err)
		if attempt < bindAttempts {
			time.Sleep(bindRetryWait)
		}
	}
	if err != nil {
		return fmt.Errorf("bind %s: %w", addr, err)
	}

	s.httpSrv = &http.Server{Handler: s.router()}
	s.startedAt = time.Now()
	s.running.Store(true)

	go func() {
		if serveErr := s.httpSrv.Serve(ln); serveErr != nil && serveErr != http.ErrServerClosed {
			log.Printf("[Server] Serve error: %v", serveErr)
		}
	}()

	s.startTimers()
	s.startAssetWatcher()
	s.logStartupOrphans()

	log.Printf("[Server] Listening on %s (http + ws)", addr)
	return nil
}

// Stop ends every background activity deterministically: timers, the asset
// watcher, the HTTP listener and its idle connections, and all PTY sessions.
// Upgraded WebSocket connections are not closed by the HTTP shutdown.
func (s *Server) Stop() {
	if !s.running.Swap(false) {
		return
	}
	close(s.tickersStop)
	if s.watcher != nil {
		s.watcher.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		log.Printf("[Server] Shutdown error: %v", err)
	}

	s.ptys.RemoveAll()
	log.Printf("[Server] Stopped")
}

// logStartupOrphans lists reattachable tmux sessions left over from earlier
// runs so operators can see them.
func (s *Server) logStartupOrphans() {
	go func() {
		sessions := s.tmux.ListActiveSessions()
		if len(sessions) == 0 {
			return
		}
		names := make([]string, len(sessions))
		for i, t := range sessions {
			names[i] = t.Name
		}
		log.Printf("[Server] Found %d reattachable tmux sessions: %v", len(sessions), names)
	}()
}

// uptime returns whole seconds since Start.
func (s *Server) uptime() int64 {
	if s.startedAt.IsZero() {
		return 0
	}
	return int64(time.Since(s.startedAt).Seconds())
}
