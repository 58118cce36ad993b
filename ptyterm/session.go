package ptyterm

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/creack/pty"
	"github.com/google/uuid"
)

// Client receives PTY output as text frames. The WebSocket terminal client
// implements it; tests substitute an in-memory sink.
type Client interface {
	SendText(text string) error
}

const readBufSize = 16 * 1024

// exitMarker is written to the attached client when the child exits.
const exitMarker = "\r\n[Process exited]\r\n"

// parentTerminalVars are scrubbed from the child environment so sessions
// spawned from inside a terminal or multiplexer don't inherit its identity.
var parentTerminalVars = []string{
	"TMUX",
	"TMUX_PANE",
	"TERM_PROGRAM",
	"TERM_PROGRAM_VERSION",
	"TERM_SESSION_ID",
	"STY",
	"ITERM_SESSION_ID",
	"KITTY_WINDOW_ID",
	"ALACRITTY_SOCKET",
	"WEZTERM_EXECUTABLE",
}

// Session is one OS pseudo-terminal with a forked shell (or tmux attach)
// behind it. Exactly one client is attached at a time, or none (orphaned).
type Session struct {
	ID         string
	WorkingDir string
	TmuxName   string

	ptmx *os.File
	cmd  *exec.Cmd

	mu                 sync.Mutex
	client             Client
	lastDisconnectedAt time.Time
	terminated         bool
	pumpStarted        bool

	writeMu   sync.Mutex
	closeOnce sync.Once

	// onExit fires once when the read pump observes child exit on a live
	// session. Set by the manager before the first attach.
	onExit func(*Session)
}

// SpawnError wraps any failure on the fork/exec path so callers can surface
// it to the initiating client without registering a session.
type SpawnError struct {
	Err error
}

func (e *SpawnError) Error() string { return "spawn failed: " + e.Err.Error() }
func (e *SpawnError) Unwrap() error { return e.Err }

// Spawn forks a child under a fresh PTY sized cols×rows. With tmuxName the
// child attaches to that tmux session via the given binary; otherwise it runs
// the user's login shell (argv[0] dash-prefixed). The caller attaches a
// client afterwards to start output flowing.
func Spawn(workingDir string, cols, rows uint16, tmuxName, tmuxPath string) (*Session, error) {
	if cols == 0 {
		cols = 80
	}
	if rows == 0 {
		rows = 24
	}

	var cmd *exec.Cmd
	if tmuxName != "" {
		cmd = exec.Command(tmuxPath, "attach-session", "-t", tmuxName)
	} else {
		shell := loginShell()
		cmd = &exec.Cmd{
			Path: shell,
			Args: []string{"-" + filepath.Base(shell)},
		}
	}
	cmd.Dir = workingDir
	cmd.Env = childEnv()

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, &SpawnError{Err: err}
	}

	return &Session{
		ID:         uuid.NewString(),
		WorkingDir: workingDir,
		TmuxName:   tmuxName,
		ptmx:       ptmx,
		cmd:        cmd,
	}, nil
}

// loginShell resolves the user's shell from the environment, falling back to
// bash then sh.
func loginShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	if _, err := os.Stat("/bin/bash"); err == nil {
		return "/bin/bash"
	}
	return "/bin/sh"
}

// childEnv builds the child's environment: current process env minus parent
// terminal identity, plus terminal type, truecolor, and UTF-8 locale.
func childEnv() []string {
	envMap := make(map[string]string, 64)
	for _, entry := range os.Environ() {
		if k, v, ok := strings.Cut(entry, "="); ok {
			envMap[k] = v
		}
	}
	for _, key := range parentTerminalVars {
		delete(envMap, key)
	}
	envMap["TERM"] = "xterm-256color"
	envMap["COLORTERM"] = "truecolor"
	envMap["LANG"] = "en_US.UTF-8"
	envMap["LC_ALL"] = "en_US.UTF-8"

	env := make([]string, 0, len(envMap))
	for k, v := range envMap {
		env = append(env, k+"="+v)
	}
	return env
}

// Attach binds a client and starts the read pump on first use. The pump is a
// single goroutine for the session's whole life; detaching swaps the sink to
// nil rather than stopping the reader, so reattach can reuse the fd.
func (s *Session) Attach(c Client) {
	s.mu.Lock()
	s.client = c
	s.lastDisconnectedAt = time.Time{}
	start := !s.pumpStarted && !s.terminated
	if start {
		s.pumpStarted = true
	}
	s.mu.Unlock()

	if start {
		go s.readPump()
	}
}

// Detach clears the client and stamps the disconnect time. The session
// becomes an orphan; output read while orphaned is dropped.
func (s *Session) Detach(now time.Time) {
	s.mu.Lock()
	s.client = nil
	s.lastDisconnectedAt = now
	s.mu.Unlock()
}

// Reattach binds a new client to an orphaned session.
func (s *Session) Reattach(c Client) {
	s.Attach(c)
}

// Orphaned reports whether the session has no client and is not terminated.
func (s *Session) Orphaned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client == nil && !s.terminated
}

// LastDisconnectedAt returns the orphan timestamp (zero while attached).
func (s *Session) LastDisconnectedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastDisconnectedAt
}

// Terminated reports whether Terminate has run.
func (s *Session) Terminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}

// Write sends input text to the child. Short writes are not retried; shell
// input is small and best-effort is accepted.
func (s *Session) Write(text string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.ptmx.Write([]byte(text))
	return err
}

// Resize applies a new window size to the PTY.
func (s *Session) Resize(cols, rows uint16) error {
	if err := pty.Setsize(s.ptmx, &pty.Winsize{Cols: cols, Rows: rows}); err != nil {
		return fmt.Errorf("resize pty: %w", err)
	}
	return nil
}

// Terminate is idempotent: stop delivering, hang up the child, close the fd
// exactly once, and reap asynchronously.
func (s *Session) Terminate() {
	s.mu.Lock()
	already := s.terminated
	s.terminated = true
	s.client = nil
	s.mu.Unlock()
	if already {
		return
	}

	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Signal(syscall.SIGHUP)
	}

	s.closeOnce.Do(func() {
		s.ptmx.Close()
	})

	// Reap without blocking the caller; escalate to SIGKILL if the child
	// ignores the hangup.
	if s.cmd != nil {
		go func() {
			done := make(chan error, 1)
			go func() { done <- s.cmd.Wait() }()
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				s.cmd.Process.Kill()
				<-done
			}
		}()
	}
}

// readPump is the session's single reader. Bytes go to whichever client is
// attached when the read returns; orphaned output is dropped. On child exit
// it emits the exit marker and fires onExit.
func (s *Session) readPump() {
	buf := make([]byte, readBufSize)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			s.deliver(buf[:n])
		}
		if err != nil {
			s.mu.Lock()
			terminated := s.terminated
			exit := s.onExit
			s.mu.Unlock()
			if !terminated {
				s.deliverText(exitMarker)
				if exit != nil {
					exit(s)
				}
			}
			return
		}
	}
}

// deliver forwards raw PTY bytes as a text frame. Valid UTF-8 passes through;
// otherwise each byte is sent as its Latin-1 code point so no byte is lost.
func (s *Session) deliver(data []byte) {
	if utf8.Valid(data) {
		s.deliverText(string(data))
		return
	}
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	s.deliverText(string(runes))
}

func (s *Session) deliverText(text string) {
	s.mu.Lock()
	c := s.client
	s.mu.Unlock()
	if c == nil {
		return
	}
	c.SendText(text)
}

// setOnExit registers the manager's exit hook.
func (s *Session) setOnExit(fn func(*Session)) {
	s.mu.Lock()
	s.onExit = fn
	s.mu.Unlock()
}
