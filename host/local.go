package host

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"cmux-remote-backend/models"
)

// Local is an in-memory host used by the standalone binary and the tests. It
// mimics the real application's workspace/notification model just enough to
// exercise the full bridge surface. All methods assume Executor affinity;
// Local carries no locks of its own.
type Local struct {
	workspaces    []models.WorkspaceSnapshot
	notifications []models.NotificationSnapshot
	selectedID    string
	stateDir      string
	tmuxMode      bool
}

// NewLocal builds a demo host with one workspace rooted at the user's home.
func NewLocal(tmuxMode bool) *Local {
	home, _ := os.UserHomeDir()
	ws := models.WorkspaceSnapshot{
		ID:            uuid.NewString(),
		Title:         "Home",
		Directory:     home,
		PanelCount:    1,
		IsTmuxEnabled: tmuxMode,
		IsSelected:    true,
		Panels: []models.PanelSnapshot{
			{ID: uuid.NewString(), Directory: home},
		},
	}
	ws.Layout = paneLayout(ws.Panels[0].ID)
	return &Local{
		workspaces: []models.WorkspaceSnapshot{ws},
		selectedID: ws.ID,
		stateDir:   filepath.Join(home, ".claude"),
		tmuxMode:   tmuxMode,
	}
}

func paneLayout(panelIDs ...string) *models.LayoutNode {
	return &models.LayoutNode{
		Type: "pane",
		Pane: &models.PaneNode{PanelIDs: panelIDs},
	}
}

// WorkspaceSnapshots implements Bridge.
func (l *Local) WorkspaceSnapshots() []models.WorkspaceSnapshot {
	out := make([]models.WorkspaceSnapshot, len(l.workspaces))
	copy(out, l.workspaces)
	for i := range out {
		out[i].IsSelected = out[i].ID == l.selectedID
	}
	return out
}

// Notifications implements Bridge.
func (l *Local) Notifications(limit int) []models.NotificationSnapshot {
	n := len(l.notifications)
	if limit > 0 && n > limit {
		n = limit
	}
	// Most recent first.
	out := make([]models.NotificationSnapshot, 0, n)
	for i := len(l.notifications) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, l.notifications[i])
	}
	return out
}

// SelectedWorkspace implements Bridge.
func (l *Local) SelectedWorkspace() string {
	return l.selectedID
}

// StateDirectory implements Bridge.
func (l *Local) StateDirectory() string {
	return l.stateDir
}

// AddNotification records and returns a notification; the caller forwards it
// to the broadcaster.
func (l *Local) AddNotification(title, subtitle, body, tabID string) models.NotificationSnapshot {
	n := models.NotificationSnapshot{
		ID:        uuid.NewString(),
		Title:     title,
		Subtitle:  subtitle,
		Body:      body,
		TabID:     tabID,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	l.notifications = append(l.notifications, n)
	return n
}

// bridgeRequest is the JSON-RPC-shaped command envelope.
type bridgeRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// HandleBridgeCommand implements Bridge. The reply is always a JSON object
// built with the serializer, never by concatenation.
func (l *Local) HandleBridgeCommand(cmd string, reply func(string)) {
	var req bridgeRequest
	if err := json.Unmarshal([]byte(cmd), &req); err != nil {
		reply(errorReply(fmt.Sprintf("malformed command: %v", err)))
		return
	}

	switch req.Method {
	case "workspace.select":
		reply(l.cmdSelect(req.Params))
	case "workspace.new":
		reply(l.cmdNew(req.Params))
	case "workspace.tmux":
		reply(l.cmdTmux(req.Params))
	case "workspace.split":
		reply(l.cmdSplit(req.Params))
	case "workspace.resume":
		reply(l.cmdResume(req.Params))
	case "ping":
		reply(jsonReply(map[string]any{"ok": true, "pong": true}))
	default:
		reply(errorReply("unknown method: " + req.Method))
	}
}

func (l *Local) cmdSelect(params json.RawMessage) string {
	var p struct {
		ID string `json:"id"`
	}
	json.Unmarshal(params, &p)
	for _, ws := range l.workspaces {
		if ws.ID == p.ID {
			l.selectedID = p.ID
			return jsonReply(map[string]any{"ok": true})
		}
	}
	return errorReply("unknown workspace: " + p.ID)
}

func (l *Local) cmdNew(params json.RawMessage) string {
	var p struct {
		Tmux      bool   `json:"tmux"`
		Directory string `json:"directory"`
	}
	json.Unmarshal(params, &p)
	dir := p.Directory
	if dir == "" {
		dir, _ = os.UserHomeDir()
	}
	ws := models.WorkspaceSnapshot{
		ID:            uuid.NewString(),
		Title:         filepath.Base(dir),
		Directory:     dir,
		PanelCount:    1,
		IsTmuxEnabled: p.Tmux || l.tmuxMode,
		Panels: []models.PanelSnapshot{
			{ID: uuid.NewString(), Directory: dir},
		},
	}
	ws.Layout = paneLayout(ws.Panels[0].ID)
	l.workspaces = append(l.workspaces, ws)
	l.selectedID = ws.ID
	log.Printf("[Host] Workspace %s created (dir: %s, tmux: %v)", ws.ID, dir, ws.IsTmuxEnabled)
	return jsonReply(map[string]any{"ok": true, "workspaceId": ws.ID, "tmux": ws.IsTmuxEnabled})
}

func (l *Local) cmdTmux(params json.RawMessage) string {
	var p struct {
		ID      string `json:"id"`
		Enabled bool   `json:"enabled"`
	}
	json.Unmarshal(params, &p)
	for i := range l.workspaces {
		if l.workspaces[i].ID == p.ID {
			l.workspaces[i].IsTmuxEnabled = p.Enabled
			return jsonReply(map[string]any{"ok": true, "tmuxEnabled": p.Enabled})
		}
	}
	return errorReply("unknown workspace: " + p.ID)
}

func (l *Local) cmdSplit(params json.RawMessage) string {
	var p struct {
		ID        string `json:"id"`
		Direction string `json:"direction"`
	}
	json.Unmarshal(params, &p)
	if p.Direction != "right" && p.Direction != "down" {
		return errorReply("direction must be right or down")
	}
	for i := range l.workspaces {
		ws := &l.workspaces[i]
		if ws.ID != p.ID && !(p.ID == "" && ws.ID == l.selectedID) {
			continue
		}
		panel := models.PanelSnapshot{ID: uuid.NewString(), Directory: ws.Directory}
		ws.Panels = append(ws.Panels, panel)
		ws.PanelCount = len(ws.Panels)
		orientation := "vertical"
		if p.Direction == "down" {
			orientation = "horizontal"
		}
		ws.Layout = &models.LayoutNode{
			Type: "split",
			Split: &models.SplitNode{
				Orientation:     orientation,
				DividerPosition: 0.5,
				First:           ws.Layout,
				Second:          paneLayout(panel.ID),
			},
		}
		return jsonReply(map[string]any{"ok": true})
	}
	return errorReply("unknown workspace: " + p.ID)
}

func (l *Local) cmdResume(params json.RawMessage) string {
	var p struct {
		ProjectPath string `json:"projectPath"`
	}
	json.Unmarshal(params, &p)
	if p.ProjectPath == "" {
		return errorReply("projectPath required")
	}
	raw := l.cmdNew(mustJSON(map[string]any{"directory": p.ProjectPath}))
	var created struct {
		WorkspaceID string `json:"workspaceId"`
	}
	json.Unmarshal([]byte(raw), &created)
	return jsonReply(map[string]any{"ok": true, "workspaceId": created.WorkspaceID})
}

func jsonReply(v map[string]any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `{"ok":false,"error":"reply encoding failed"}`
	}
	return string(b)
}

func errorReply(msg string) string {
	return jsonReply(map[string]any{"ok": false, "error": msg})
}

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
