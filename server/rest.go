package server

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"cmux-remote-backend/models"
)

// maxNotifications caps GET /api/notifications.
const maxNotifications = 50

// agentSessionWindow is how recently a transcript must have been touched to
// count as active.
const agentSessionWindow = 30 * time.Minute

// handleStatus reports the server's vital signs. Host state is read on the
// executor loop.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var (
		workspaceCount int
		unreadCount    int
		selected       string
		clients        int
	)
	ok := s.exec.DoWait(func() {
		snaps := s.bridge.WorkspaceSnapshots()
		workspaceCount = len(snaps)
		for _, ws := range snaps {
			unreadCount += ws.UnreadCount
		}
		selected = s.bridge.SelectedWorkspace()
		clients = len(s.stateClients)
	}, bridgeTimeout)
	if !ok {
		writeJSON(w, timeoutEnvelope())
		return
	}

	writeJSON(w, map[string]any{
		"version":           Version,
		"workspaceCount":    workspaceCount,
		"selectedWorkspace": selected,
		"unreadCount":       unreadCount,
		"connectedClients":  clients,
		"port":              s.cfg.Port,
		"uptime":            s.uptime(),
	})
}

// handleWorkspaces returns the workspace snapshots.
func (s *Server) handleWorkspaces(w http.ResponseWriter, _ *http.Request) {
	var snaps []models.WorkspaceSnapshot
	ok := s.exec.DoWait(func() {
		snaps = s.bridge.WorkspaceSnapshots()
	}, bridgeTimeout)
	if !ok {
		writeJSON(w, timeoutEnvelope())
		return
	}
	if snaps == nil {
		snaps = []models.WorkspaceSnapshot{}
	}
	writeJSON(w, snaps)
}

// handleNotifications returns up to 50 most recent notifications.
func (s *Server) handleNotifications(w http.ResponseWriter, _ *http.Request) {
	var notes []models.NotificationSnapshot
	ok := s.exec.DoWait(func() {
		notes = s.bridge.Notifications(maxNotifications)
	}, bridgeTimeout)
	if !ok {
		writeJSON(w, timeoutEnvelope())
		return
	}
	if notes == nil {
		notes = []models.NotificationSnapshot{}
	}
	writeJSON(w, notes)
}

// handleCommand bridges the raw body as a command.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil || len(strings.TrimSpace(string(body))) == 0 {
		writeBadRequest(w, "command body required")
		return
	}
	writeJSON(w, s.bridgeCommand(string(body)))
}

// handleWorkspaceSelect bridges workspace.select for the path id.
func (s *Server) handleWorkspaceSelect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeBadRequest(w, "workspace id required")
		return
	}
	writeJSON(w, s.bridgeCommand(command("workspace.select", map[string]any{"id": id})))
}

// handleWorkspaceNew bridges workspace creation with optional tmux/directory.
func (s *Server) handleWorkspaceNew(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Tmux      bool   `json:"tmux"`
		Directory string `json:"directory"`
	}
	if err := decodeOptionalBody(r, &body); err != nil {
		writeBadRequest(w, "malformed body: "+err.Error())
		return
	}
	writeJSON(w, s.bridgeCommand(command("workspace.new", map[string]any{
		"tmux":      body.Tmux,
		"directory": body.Directory,
	})))
}

// handleWorkspaceTmux toggles tmux mode on a workspace.
func (s *Server) handleWorkspaceTmux(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "malformed body: "+err.Error())
		return
	}
	writeJSON(w, s.bridgeCommand(command("workspace.tmux", map[string]any{
		"id":      id,
		"enabled": body.Enabled,
	})))
}

// handleWorkspaceSplit splits the focused panel right or down.
func (s *Server) handleWorkspaceSplit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		Direction string `json:"direction"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "malformed body: "+err.Error())
		return
	}
	if body.Direction != "right" && body.Direction != "down" {
		writeBadRequest(w, "direction must be right or down")
		return
	}
	writeJSON(w, s.bridgeCommand(command("workspace.split", map[string]any{
		"id":        id,
		"direction": body.Direction,
	})))
}

// tmuxSessionWire is the REST representation of a tmux session (created as
// ISO-8601 rather than a unix timestamp).
type tmuxSessionWire struct {
	Name        string `json:"name"`
	Created     string `json:"created"`
	WindowCount int    `json:"windowCount"`
	Attached    int    `json:"attached"`
	CurrentPath string `json:"currentPath"`
}

// handleTmuxList enumerates server-owned tmux sessions.
func (s *Server) handleTmuxList(w http.ResponseWriter, _ *http.Request) {
	sessions := s.tmux.ListActiveSessions()
	out := make([]tmuxSessionWire, 0, len(sessions))
	for _, t := range sessions {
		out = append(out, tmuxSessionWire{
			Name:        t.Name,
			Created:     time.Unix(t.Created, 0).UTC().Format(time.RFC3339),
			WindowCount: t.WindowCount,
			Attached:    t.AttachedClients,
			CurrentPath: t.CurrentPath,
		})
	}
	writeJSON(w, out)
}

// handleTmuxKill kills one session by name.
func (s *Server) handleTmuxKill(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		writeBadRequest(w, "session name required")
		return
	}
	killed := s.tmux.KillSession(name)
	writeJSON(w, map[string]any{"ok": true, "killed": killed})
}

// handleTmuxKillAll kills every server-owned session.
func (s *Server) handleTmuxKillAll(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"ok": true, "killed": s.tmux.KillAllSessions()})
}

// handleAgentSessions scans the host state directory for recent agent
// transcripts.
func (s *Server) handleAgentSessions(w http.ResponseWriter, _ *http.Request) {
	var stateDir string
	ok := s.exec.DoWait(func() {
		stateDir = s.bridge.StateDirectory()
	}, bridgeTimeout)
	if !ok {
		writeJSON(w, timeoutEnvelope())
		return
	}
	writeJSON(w, scanAgentSessions(stateDir, time.Now()))
}

// handleAgentResume creates a workspace rooted at a transcript's project.
func (s *Server) handleAgentResume(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProjectPath string `json:"projectPath"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ProjectPath == "" {
		writeBadRequest(w, "projectPath required")
		return
	}
	writeJSON(w, s.bridgeCommand(command("workspace.resume", map[string]any{
		"projectPath": body.ProjectPath,
	})))
}

// scanAgentSessions walks <stateDir>/projects/*/*.jsonl and summarizes the
// transcripts touched inside the recency window, newest first.
func scanAgentSessions(stateDir string, now time.Time) []models.AgentSessionInfo {
	out := []models.AgentSessionInfo{}
	projectsDir := filepath.Join(stateDir, "projects")
	projects, err := os.ReadDir(projectsDir)
	if err != nil {
		return out
	}
	for _, project := range projects {
		if !project.IsDir() {
			continue
		}
		projectDir := filepath.Join(projectsDir, project.Name())
		entries, err := os.ReadDir(projectDir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if now.Sub(info.ModTime()) > agentSessionWindow {
				continue
			}
			out = append(out, models.AgentSessionInfo{
				SessionID:        strings.TrimSuffix(entry.Name(), ".jsonl"),
				ProjectPath:      decodeProjectPath(project.Name()),
				ConversationPath: filepath.Join(projectDir, entry.Name()),
				ModifiedAt:       info.ModTime().UTC().Format(time.RFC3339),
			})
		}
	}
	// Newest first.
	sort.Slice(out, func(i, j int) bool {
		return out[i].ModifiedAt > out[j].ModifiedAt
	})
	return out
}

// decodeProjectPath restores a filesystem path from its encoded directory
// name ("-home-user-app" → "/home/user/app"). Best effort; directory names
// containing hyphens are ambiguous.
func decodeProjectPath(encoded string) string {
	encoded = strings.TrimPrefix(encoded, "-")
	return "/" + strings.ReplaceAll(encoded, "-", "/")
}

// decodeOptionalBody decodes a JSON body, accepting an empty one.
func decodeOptionalBody(r *http.Request, v any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}
