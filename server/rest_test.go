package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cmux-remote-backend/config"
	"cmux-remote-backend/host"
	"cmux-remote-backend/ptyterm"
	"cmux-remote-backend/tmuxctl"
)

// newTestHTTP builds a server around the demo host and exposes its router.
func newTestHTTP(t *testing.T) (*Server, *httptest.Server, *host.Local) {
	t.Helper()
	exec := host.NewExecutor()
	t.Cleanup(exec.Stop)
	local := host.NewLocal(false)
	s := New(config.Config{Port: config.DefaultPort}, local, exec,
		tmuxctl.NewCoordinator(), ptyterm.NewManager("tmux"))
	ts := httptest.NewServer(s.router())
	t.Cleanup(ts.Close)
	t.Cleanup(s.ptys.RemoveAll)
	return s, ts, local
}

func getJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp
}

func postJSON(t *testing.T, url string, body any, v any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := http.Post(url, "application/json", &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp
}

func TestStatus(t *testing.T) {
	_, ts, _ := newTestHTTP(t)
	var status map[string]any
	resp := getJSON(t, ts.URL+"/api/status", &status)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, Version, status["version"])
	assert.Equal(t, float64(1), status["workspaceCount"])
	assert.Equal(t, float64(config.DefaultPort), status["port"])
	assert.NotEmpty(t, status["selectedWorkspace"])
}

func TestWorkspaces(t *testing.T) {
	_, ts, _ := newTestHTTP(t)
	var workspaces []map[string]any
	getJSON(t, ts.URL+"/api/workspaces", &workspaces)
	require.Len(t, workspaces, 1)
	assert.Equal(t, "Home", workspaces[0]["title"])
	assert.Equal(t, true, workspaces[0]["isSelected"])
	layout := workspaces[0]["layout"].(map[string]any)
	assert.Equal(t, "pane", layout["type"])
}

func TestWorkspaceNewAndSelect(t *testing.T) {
	_, ts, _ := newTestHTTP(t)

	var created map[string]any
	postJSON(t, ts.URL+"/api/workspaces/new", map[string]any{"directory": "/tmp"}, &created)
	assert.Equal(t, true, created["ok"])
	newID := created["workspaceId"].(string)
	require.NotEmpty(t, newID)

	var workspaces []map[string]any
	getJSON(t, ts.URL+"/api/workspaces", &workspaces)
	assert.Len(t, workspaces, 2)

	var selected map[string]any
	postJSON(t, ts.URL+"/api/workspaces/"+newID+"/select", nil, &selected)
	assert.Equal(t, true, selected["ok"])

	var bad map[string]any
	postJSON(t, ts.URL+"/api/workspaces/no-such-id/select", nil, &bad)
	assert.Equal(t, false, bad["ok"])
}

func TestWorkspaceTmuxToggle(t *testing.T) {
	_, ts, _ := newTestHTTP(t)
	var workspaces []map[string]any
	getJSON(t, ts.URL+"/api/workspaces", &workspaces)
	id := workspaces[0]["id"].(string)

	var result map[string]any
	postJSON(t, ts.URL+"/api/workspaces/"+id+"/tmux", map[string]any{"enabled": true}, &result)
	assert.Equal(t, true, result["ok"])
	assert.Equal(t, true, result["tmuxEnabled"])
}

func TestWorkspaceSplitValidation(t *testing.T) {
	_, ts, _ := newTestHTTP(t)
	var workspaces []map[string]any
	getJSON(t, ts.URL+"/api/workspaces", &workspaces)
	id := workspaces[0]["id"].(string)

	resp := postJSON(t, ts.URL+"/api/workspaces/"+id+"/split", map[string]any{"direction": "sideways"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var result map[string]any
	postJSON(t, ts.URL+"/api/workspaces/"+id+"/split", map[string]any{"direction": "right"}, &result)
	assert.Equal(t, true, result["ok"])

	getJSON(t, ts.URL+"/api/workspaces", &workspaces)
	assert.Equal(t, float64(2), workspaces[0]["panelCount"])
	layout := workspaces[0]["layout"].(map[string]any)
	assert.Equal(t, "split", layout["type"])
}

func TestRawCommand(t *testing.T) {
	_, ts, _ := newTestHTTP(t)
	resp, err := http.Post(ts.URL+"/api/command", "application/json",
		bytes.NewBufferString(`{"jsonrpc":"2.0","method":"ping"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	var result map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, true, result["ok"])
	assert.Equal(t, true, result["pong"])
}

func TestRawCommandEmptyBody(t *testing.T) {
	_, ts, _ := newTestHTTP(t)
	resp, err := http.Post(ts.URL+"/api/command", "application/json", bytes.NewBufferString(""))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestNotificationsEndpoint(t *testing.T) {
	s, ts, local := newTestHTTP(t)

	var notes []map[string]any
	getJSON(t, ts.URL+"/api/notifications", &notes)
	assert.Empty(t, notes)

	s.exec.DoWait(func() {
		local.AddNotification("Build finished", "", "exit 0", "tab-1")
	}, time.Second)

	getJSON(t, ts.URL+"/api/notifications", &notes)
	require.Len(t, notes, 1)
	assert.Equal(t, "Build finished", notes[0]["title"])
}

func TestAgentResumeValidation(t *testing.T) {
	_, ts, _ := newTestHTTP(t)
	resp := postJSON(t, ts.URL+"/api/cc/resume", map[string]any{}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var result map[string]any
	postJSON(t, ts.URL+"/api/cc/resume", map[string]any{"projectPath": "/tmp"}, &result)
	assert.Equal(t, true, result["ok"])
	assert.NotEmpty(t, result["workspaceId"])
}

func TestTmuxKillRejectsForeignName(t *testing.T) {
	_, ts, _ := newTestHTTP(t)
	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/tmux/sessions/production-db", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var result map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, true, result["ok"])
	assert.Equal(t, false, result["killed"])
}

func TestHealth(t *testing.T) {
	_, ts, _ := newTestHTTP(t)
	var health map[string]any
	resp := getJSON(t, ts.URL+"/health", &health)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", health["status"])
}

func TestStaticAssets(t *testing.T) {
	_, ts, _ := newTestHTTP(t)
	for path, wantType := range map[string]string{
		"/":              "text/html; charset=utf-8",
		"/style.css":     "text/css; charset=utf-8",
		"/app.js":        "application/javascript; charset=utf-8",
		"/manifest.json": "application/json",
		"/sw.js":         "application/javascript; charset=utf-8",
	} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, wantType, resp.Header.Get("Content-Type"), path)
	}
}

func TestScanAgentSessions(t *testing.T) {
	stateDir := t.TempDir()
	projectDir := filepath.Join(stateDir, "projects", "-tmp-myapp")
	require.NoError(t, os.MkdirAll(projectDir, 0o755))

	fresh := filepath.Join(projectDir, "abc-123.jsonl")
	require.NoError(t, os.WriteFile(fresh, []byte("{}\n"), 0o644))

	stale := filepath.Join(projectDir, "old-456.jsonl")
	require.NoError(t, os.WriteFile(stale, []byte("{}\n"), 0o644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	sessions := scanAgentSessions(stateDir, time.Now())
	require.Len(t, sessions, 1)
	assert.Equal(t, "abc-123", sessions[0].SessionID)
	assert.Equal(t, "/tmp/myapp", sessions[0].ProjectPath)
	assert.Equal(t, fresh, sessions[0].ConversationPath)
}

func TestScanAgentSessionsMissingDir(t *testing.T) {
	sessions := scanAgentSessions("/no/such/state/dir", time.Now())
	assert.Empty(t, sessions)
}
