package models

// WorkspaceSnapshot is the read-only view of a workspace the host hands to
// the server for broadcasts and GET /api/workspaces. The layout tree and
// selection semantics are owned by the host; the server serializes them as-is.
type WorkspaceSnapshot struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	Directory     string          `json:"directory"`
	PanelCount    int             `json:"panelCount"`
	UnreadCount   int             `json:"unreadCount"`
	IsPinned      bool            `json:"isPinned"`
	IsTmuxEnabled bool            `json:"isTmuxEnabled"`
	IsSelected    bool            `json:"isSelected"`
	Color         string          `json:"color,omitempty"`
	Panels        []PanelSnapshot `json:"panels,omitempty"`
	Layout        *LayoutNode     `json:"layout,omitempty"`
}

// PanelSnapshot identifies one terminal panel inside a workspace.
type PanelSnapshot struct {
	ID          string `json:"id"`
	Directory   string `json:"directory"`
	TmuxSession string `json:"tmuxSession,omitempty"`
}

// LayoutNode is one node of the recursive split tree. Type is "pane" or
// "split"; exactly one of Pane/Split is set.
type LayoutNode struct {
	Type  string     `json:"type"`
	Pane  *PaneNode  `json:"pane,omitempty"`
	Split *SplitNode `json:"split,omitempty"`
}

// PaneNode lists the panels stacked in a leaf pane.
type PaneNode struct {
	PanelIDs []string `json:"panelIds"`
}

// SplitNode divides a region in two. Orientation is "vertical" or
// "horizontal"; DividerPosition is the fraction given to First.
type SplitNode struct {
	Orientation     string      `json:"orientation"`
	DividerPosition float64     `json:"dividerPosition"`
	First           *LayoutNode `json:"first"`
	Second          *LayoutNode `json:"second"`
}

// NotificationSnapshot is a host notification as pushed to state clients and
// returned by GET /api/notifications.
type NotificationSnapshot struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Subtitle  string `json:"subtitle,omitempty"`
	Body      string `json:"body,omitempty"`
	TabID     string `json:"tabId,omitempty"`
	IsRead    bool   `json:"isRead"`
	CreatedAt string `json:"createdAt"`
}

// TmuxSessionInfo describes one server-owned tmux session as reported by
// `tmux list-sessions`.
type TmuxSessionInfo struct {
	Name            string `json:"name"`
	Created         int64  `json:"created"`
	WindowCount     int    `json:"windowCount"`
	AttachedClients int    `json:"attachedClients"`
	CurrentPath     string `json:"currentPath"`
}

// AgentSessionInfo summarizes a recent agent transcript found in the host
// state directory (GET /api/cc/sessions).
type AgentSessionInfo struct {
	SessionID        string `json:"sessionId"`
	ProjectPath      string `json:"projectPath"`
	ConversationPath string `json:"conversationPath"`
	ModifiedAt       string `json:"modifiedAt"`
}
