package server

import (
	"encoding/json"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"cmux-remote-backend/models"
)

// startTimers launches the periodic work: state broadcasts, pings, and the
// orphan reaper. Each ticker body hops onto the executor (the timers' home
// thread in the host app); the reaper runs on a background goroutine.
func (s *Server) startTimers() {
	go s.tickLoop(stateInterval, func() { s.exec.Do(s.broadcastState) })
	go s.tickLoop(pingInterval, func() { s.exec.Do(s.broadcastPing) })
	go s.tickLoop(reapInterval, func() {
		go func() {
			if n := s.ptys.ReapOrphans(); n > 0 {
				log.Printf("[Server] Reaped %d expired orphan sessions", n)
			}
		}()
	})
}

func (s *Server) tickLoop(interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fn()
		case <-s.tickersStop:
			return
		}
	}
}

// broadcastState runs on the executor loop: refresh the tmux cache if stale,
// then fan the workspace + tmux snapshot out to every state client.
func (s *Server) broadcastState() {
	if len(s.stateClients) == 0 {
		return
	}
	s.refreshTmuxSnapshot()

	message := map[string]any{
		"type":         "state",
		"data":         s.bridge.WorkspaceSnapshots(),
		"tmuxSessions": s.tmuxSnapshot,
	}
	s.fanOut(message)
}

// broadcastPing runs on the executor loop.
func (s *Server) broadcastPing() {
	if len(s.stateClients) == 0 {
		return
	}
	s.fanOut(map[string]any{"type": "ping"})
}

// ForwardNotification pushes a host notification to every state client. Safe
// to call from any thread; the client set is read on the executor.
func (s *Server) ForwardNotification(n models.NotificationSnapshot) {
	s.exec.Do(func() {
		s.fanOut(map[string]any{
			"type":      "notification",
			"id":        n.ID,
			"title":     n.Title,
			"subtitle":  n.Subtitle,
			"body":      n.Body,
			"tabId":     n.TabID,
			"isRead":    n.IsRead,
			"createdAt": n.CreatedAt,
		})
	})
}

// fanOut encodes once and dispatches to every client. Must run on the
// executor loop; the actual socket writes happen on each client's write pump
// so a slow socket never blocks the loop.
func (s *Server) fanOut(message map[string]any) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("[Hub] Failed to encode broadcast: %v", err)
		return
	}
	clients := make([]*stateClient, 0, len(s.stateClients))
	for c := range s.stateClients {
		clients = append(clients, c)
	}
	go func() {
		for _, c := range clients {
			c.enqueue(data)
		}
	}()
}

// refreshTmuxSnapshot re-lists tmux sessions at most every tmuxSnapshotTTL.
// The subprocess runs on a background goroutine; the cache write hops back to
// the executor loop and triggers a broadcast of the refreshed snapshot.
func (s *Server) refreshTmuxSnapshot() {
	if s.tmuxRefreshing || time.Since(s.tmuxRefreshedAt) < tmuxSnapshotTTL {
		return
	}
	s.tmuxRefreshing = true
	go func() {
		sessions := s.tmux.ListActiveSessions()
		s.exec.Do(func() {
			s.tmuxSnapshot = sessions
			s.tmuxRefreshedAt = time.Now()
			s.tmuxRefreshing = false
			s.broadcastState()
		})
	}()
}

// startAssetWatcher watches the on-disk asset override directory (if
// configured) and tells state clients to reload when the bundle changes.
func (s *Server) startAssetWatcher() {
	if s.cfg.AssetsDir == "" {
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("[Watcher] Failed to create asset watcher: %v", err)
		return
	}
	if err := watcher.Add(s.cfg.AssetsDir); err != nil {
		log.Printf("[Watcher] Cannot watch %s: %v", s.cfg.AssetsDir, err)
		watcher.Close()
		return
	}
	s.watcher = watcher
	log.Printf("[Watcher] Watching assets in %s", s.cfg.AssetsDir)

	go func() {
		var debounce *time.Timer
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if strings.HasPrefix(filepath.Base(event.Name), ".") {
					continue
				}
				// Editors fire bursts of events per save; collapse them.
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(200*time.Millisecond, func() {
					s.exec.Do(func() {
						s.fanOut(map[string]any{"type": "reload"})
					})
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[Watcher] Error: %v", err)
			}
		}
	}()
}
