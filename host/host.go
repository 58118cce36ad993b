package host

import (
	"sync"
	"time"

	"cmux-remote-backend/models"
)

// Bridge is the narrow view of the host application the server is allowed to
// see. Every method must be called on the Executor loop; the server never
// touches host state from its network workers directly.
type Bridge interface {
	// WorkspaceSnapshots returns the current workspace state for broadcasts
	// and GET /api/workspaces.
	WorkspaceSnapshots() []models.WorkspaceSnapshot
	// Notifications returns up to limit most recent notifications.
	Notifications(limit int) []models.NotificationSnapshot
	// SelectedWorkspace returns the id of the selected workspace ("" if none).
	SelectedWorkspace() string
	// HandleBridgeCommand dispatches a JSON-RPC-shaped command string and
	// eventually invokes reply exactly once with the raw reply string.
	HandleBridgeCommand(cmd string, reply func(string))
	// StateDirectory is the root the agent-transcript scan walks.
	StateDirectory() string
}

// Executor serializes host access onto one goroutine, standing in for the
// host application's UI thread.
type Executor struct {
	tasks    chan func()
	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewExecutor starts the run loop.
func NewExecutor() *Executor {
	e := &Executor{
		tasks: make(chan func(), 256),
		quit:  make(chan struct{}),
	}
	e.wg.Add(1)
	go e.run()
	return e
}

func (e *Executor) run() {
	defer e.wg.Done()
	for {
		select {
		case fn := <-e.tasks:
			fn()
		case <-e.quit:
			// Drain anything already enqueued so DoWait callers unblock.
			for {
				select {
				case fn := <-e.tasks:
					fn()
				default:
					return
				}
			}
		}
	}
}

// Do enqueues fn without waiting. Dropped if the executor is stopped.
func (e *Executor) Do(fn func()) {
	select {
	case e.tasks <- fn:
	case <-e.quit:
	}
}

// DoWait enqueues fn and blocks until it has run or the timeout expires.
// Returns false on timeout or when the executor is stopped.
func (e *Executor) DoWait(fn func(), timeout time.Duration) bool {
	done := make(chan struct{})
	wrapped := func() {
		fn()
		close(done)
	}
	deadline := time.After(timeout)
	select {
	case e.tasks <- wrapped:
	case <-e.quit:
		return false
	case <-deadline:
		return false
	}
	select {
	case <-done:
		return true
	case <-deadline:
		return false
	}
}

// Stop ends the run loop after draining enqueued work.
func (e *Executor) Stop() {
	e.stopOnce.Do(func() {
		close(e.quit)
	})
	e.wg.Wait()
}
