package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"cmux-remote-backend/config"
	"cmux-remote-backend/host"
	"cmux-remote-backend/ptyterm"
	"cmux-remote-backend/server"
	"cmux-remote-backend/tmuxctl"
)

func main() {
	cfg := config.Load()
	if !cfg.Enabled {
		log.Println("Remote access disabled (set CMUX_REMOTE_ENABLED=1 to enable)")
		return
	}

	exec := host.NewExecutor()
	defer exec.Stop()

	bridge := host.NewLocal(cfg.TmuxMode)
	tmux := tmuxctl.NewCoordinator()
	ptys := ptyterm.NewManager(tmux.BinaryPath())

	srv := server.New(cfg, bridge, exec, tmux, ptys)
	if err := srv.Start(); err != nil {
		log.Printf("Failed to start remote server: %v", err)
		return
	}

	log.Printf("Remote access: http://localhost:%d", cfg.Port)
	log.Printf("State WebSocket: ws://localhost:%d/ws", cfg.Port)
	log.Printf("Terminal WebSocket: ws://localhost:%d/ws/terminal", cfg.Port)

	// On SIGINT/SIGTERM, tear down PTYs and the listener before exiting.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")
	srv.Stop()
}
