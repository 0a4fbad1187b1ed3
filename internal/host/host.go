// Package host is the interactive terminal front end. It is the reference
// consumer of the runtime's notification stream: bus events become view
// updates, key presses become submissions, aborts and confirmation answers.
package host

import (
	tea "github.com/charmbracelet/bubbletea"

	"baton/internal/config"
	"baton/internal/notify"
	"baton/internal/runtime"
)

// Agent is the slice of the runtime the host drives.
type Agent interface {
	Submit(sub runtime.Submission) (string, error)
	Abort(taskID string) bool
	Confirm(id string, approved, remember bool) error
	UpdateBackend(patch config.Runtime) error
	Backend() config.Runtime
	BridgeServers() []string
	RefreshBridge(server string) error
	Notifications() <-chan notify.Notification
}

// Host owns the Bubble Tea program and the goroutine that forwards bus
// notifications into it.
type Host struct {
	agent   Agent
	workDir string
}

// New creates a host for the given agent. workDir is display-only.
func New(agent Agent, workDir string) *Host {
	return &Host{agent: agent, workDir: workDir}
}

// Run blocks until the user quits. The forwarding goroutine exits when the
// runtime closes its bus during shutdown; sends into a finished program are
// no-ops, so the order of the two does not matter.
func (h *Host) Run() error {
	program := tea.NewProgram(NewModel(h.agent, h.workDir),
		tea.WithAltScreen(), tea.WithMouseCellMotion())

	go func() {
		for n := range h.agent.Notifications() {
			program.Send(notificationMsg(n))
		}
		program.Send(busClosedMsg{})
	}()

	_, err := program.Run()
	return err
}
