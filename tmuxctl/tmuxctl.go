package tmuxctl

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"cmux-remote-backend/models"
)

// SessionPrefix marks tmux sessions owned by this server. Sessions without
// the prefix are never enumerated, killed, or listed.
const SessionPrefix = "at-"

// tmuxProbePaths is checked in order at startup; homebrew installs first.
var tmuxProbePaths = []string{
	"/opt/homebrew/bin/tmux",
	"/usr/local/bin/tmux",
	"/usr/bin/tmux",
}

// listFormat matches the tab-separated fields parsed by parseSessionLine.
const listFormat = "#{session_name}\t#{session_created}\t#{session_windows}\t#{session_attached}\t#{pane_current_path}"

// Coordinator names, creates, enumerates, and kills the server's tmux
// sessions. The binary path is resolved once at construction; the panel
// registry preserves panel→session mirroring across PTY reconnects.
type Coordinator struct {
	bin string

	mu    sync.Mutex
	names map[string]string // panelID → tmux session name
}

// NewCoordinator resolves the tmux binary and returns a ready coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		bin:   ResolveTmuxPath(),
		names: make(map[string]string),
	}
}

// ResolveTmuxPath probes the well-known install locations and falls back to
// the bare name, leaving resolution to PATH.
func ResolveTmuxPath() string {
	for _, p := range tmuxProbePaths {
		if info, err := os.Stat(p); err == nil && info.Mode()&0111 != 0 {
			return p
		}
	}
	return "tmux"
}

// BinaryPath returns the resolved tmux path.
func (c *Coordinator) BinaryPath() string {
	return c.bin
}

// SessionName derives a deterministic session name for a panel. With a title
// the name is at-<slug>-<4 hex of panelID>; without, at-<8 hex of panelID>.
func (c *Coordinator) SessionName(panelID, title string) string {
	if title != "" {
		return SessionPrefix + slugify(title) + "-" + hexPrefix(panelID, 4)
	}
	return SessionPrefix + hexPrefix(panelID, 8)
}

// slugify lowercases, maps spaces to dashes and dots/colons to underscores,
// drops everything else non-alphanumeric, and truncates to 30 characters.
func slugify(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		switch {
		case r == ' ':
			b.WriteByte('-')
		case r == '.' || r == ':':
			b.WriteByte('_')
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	s := b.String()
	if len(s) > 30 {
		s = s[:30]
	}
	return s
}

// hexPrefix extracts the first n hex characters of an id (UUID dashes and
// other separators skipped).
func hexPrefix(id string, n int) string {
	var b strings.Builder
	for _, r := range strings.ToLower(id) {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') {
			b.WriteRune(r)
			if b.Len() == n {
				break
			}
		}
	}
	return b.String()
}

// RegisteredName returns the session name previously registered for a panel.
func (c *Coordinator) RegisteredName(panelID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	name, ok := c.names[panelID]
	return name, ok
}

// register records a panel→name binding, returning the surviving name if the
// panel was already registered.
func (c *Coordinator) register(panelID, name string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.names[panelID]; ok {
		return existing
	}
	c.names[panelID] = name
	return name
}

// Forget drops a panel's registry entry.
func (c *Coordinator) Forget(panelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.names, panelID)
}

// BuildCreateOrAttachCommand returns a shell command string that attaches to
// the panel's tmux session, creating it on first use (new-session -A). The
// session gets the panel id exported both into the tmux environment and the
// first window's shell, has the status bar disabled (the host surface draws
// its own chrome), and clears so the setup is invisible.
func (c *Coordinator) BuildCreateOrAttachCommand(panelID, dir, title string) string {
	name := c.register(panelID, c.SessionName(panelID, title))

	var b strings.Builder
	b.WriteString(shellQuote(c.bin))
	b.WriteString(" -u new-session -A -s ")
	b.WriteString(shellQuote(name))
	if dir != "" {
		b.WriteString(" -c ")
		b.WriteString(shellQuote(dir))
	}
	b.WriteString(" \\; set-option status off")
	b.WriteString(" \\; set-environment CMUX_SURFACE_ID " + shellQuote(panelID))
	b.WriteString(" \\; set-environment CMUX_PANEL_ID " + shellQuote(panelID))
	// Leading space keeps the export out of shell history; clear hides it.
	b.WriteString(fmt.Sprintf(" \\; send-keys %s Enter",
		shellQuote(" export CMUX_SURFACE_ID="+panelID+" CMUX_PANEL_ID="+panelID+"; clear")))
	return b.String()
}

// BuildAttachCommand returns a pure attach command for an existing session.
func (c *Coordinator) BuildAttachCommand(name string) string {
	return "TERM=xterm-256color " + shellQuote(c.bin) + " -u attach-session -t " + shellQuote(name)
}

// shellQuote single-quotes s for /bin/sh, escaping embedded single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// ListActiveSessions enumerates the server-owned tmux sessions. A non-zero
// exit (no server running, no sessions) yields an empty list.
func (c *Coordinator) ListActiveSessions() []models.TmuxSessionInfo {
	cmd := exec.Command(c.bin, "list-sessions", "-F", listFormat)
	out, err := cmd.Output()
	if err != nil {
		return nil
	}
	var sessions []models.TmuxSessionInfo
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		info, ok := parseSessionLine(line)
		if !ok {
			continue
		}
		if !strings.HasPrefix(info.Name, SessionPrefix) {
			continue
		}
		sessions = append(sessions, info)
	}
	return sessions
}

// parseSessionLine parses one tab-separated list-sessions line.
func parseSessionLine(line string) (models.TmuxSessionInfo, bool) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return models.TmuxSessionInfo{}, false
	}
	parts := strings.Split(line, "\t")
	if len(parts) != 5 {
		return models.TmuxSessionInfo{}, false
	}
	created, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return models.TmuxSessionInfo{}, false
	}
	windows, err := strconv.Atoi(parts[2])
	if err != nil {
		return models.TmuxSessionInfo{}, false
	}
	attached, err := strconv.Atoi(parts[3])
	if err != nil {
		return models.TmuxSessionInfo{}, false
	}
	return models.TmuxSessionInfo{
		Name:            parts[0],
		Created:         created,
		WindowCount:     windows,
		AttachedClients: attached,
		CurrentPath:     parts[4],
	}, true
}

// SessionExists checks for a session by name via has-session.
func (c *Coordinator) SessionExists(name string) bool {
	return exec.Command(c.bin, "has-session", "-t", name).Run() == nil
}

// KillSession kills one tmux session by name. Refuses names outside the
// server's prefix.
func (c *Coordinator) KillSession(name string) bool {
	if !strings.HasPrefix(name, SessionPrefix) {
		return false
	}
	if err := exec.Command(c.bin, "kill-session", "-t", name).Run(); err != nil {
		log.Printf("[Tmux] kill-session %s: %v", name, err)
		return false
	}
	return true
}

// KillAllSessions kills every server-owned session and returns the count.
func (c *Coordinator) KillAllSessions() int {
	killed := 0
	for _, s := range c.ListActiveSessions() {
		if c.KillSession(s.Name) {
			killed++
		}
	}
	return killed
}
