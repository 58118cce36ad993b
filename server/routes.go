package server

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"cmux-remote-backend/web"
)

// router builds the full route table: static bundle, REST surface, and the
// two WebSocket upgrade paths.
func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	// Static bundle
	r.Get("/", s.serveAsset("index.html"))
	r.Get("/style.css", s.serveAsset("style.css"))
	r.Get("/app.js", s.serveAsset("app.js"))
	r.Get("/manifest.json", s.serveAsset("manifest.json"))
	r.Get("/sw.js", s.serveAsset("sw.js"))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"status": "ok"})
	})

	// REST
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/workspaces", s.handleWorkspaces)
		r.Get("/notifications", s.handleNotifications)
		r.Post("/command", s.handleCommand)

		r.Post("/workspaces/new", s.handleWorkspaceNew)
		r.Post("/workspaces/{id}/select", s.handleWorkspaceSelect)
		// The source registered this route twice; exactly one lives here
		// (chi would silently let a second registration replace the first).
		r.Post("/workspaces/{id}/tmux", s.handleWorkspaceTmux)
		r.Post("/workspaces/{id}/split", s.handleWorkspaceSplit)

		r.Get("/tmux/sessions", s.handleTmuxList)
		r.Delete("/tmux/sessions", s.handleTmuxKillAll)
		r.Delete("/tmux/sessions/{name}", s.handleTmuxKill)

		r.Get("/cc/sessions", s.handleAgentSessions)
		r.Post("/cc/resume", s.handleAgentResume)
	})

	// WebSockets
	r.Get("/ws", s.handleStateWS)
	r.Get("/ws/terminal", s.handleTerminalWS)

	return r
}

// serveAsset serves one bundle file with its MIME type, honoring the dev
// override directory.
func (s *Server) serveAsset(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		data, err := web.Asset(name, s.cfg.AssetsDir)
		if err != nil {
			http.Error(w, "asset not found: "+name, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", web.ContentType(name))
		w.Write(data)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Server] Failed to encode response: %v", err)
	}
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)
	io.WriteString(w, msg)
}

// command builds a JSON-RPC-shaped command string with the serializer.
func command(method string, params map[string]any) string {
	data, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
	})
	return string(data)
}
