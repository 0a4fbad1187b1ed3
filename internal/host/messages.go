package host

import "baton/internal/notify"

// State identifies what the host is doing and which keys are live.
type State int

const (
	// stateInput accepts a new instruction.
	stateInput State = iota
	// stateBusy means a submission is running and no text has streamed yet.
	stateBusy
	// stateStreaming means assistant output is arriving.
	stateStreaming
	// stateConfirm means a gated command is waiting for a y/a/n answer.
	stateConfirm
)

func (s State) String() string {
	switch s {
	case stateInput:
		return "input"
	case stateBusy:
		return "busy"
	case stateStreaming:
		return "streaming"
	case stateConfirm:
		return "confirm"
	default:
		return "unknown"
	}
}

// Messages delivered to the model. Notifications arrive wholesale from the
// runtime bus; the rest report results of commands the host issued.
type (
	// notificationMsg wraps one bus notification.
	notificationMsg notify.Notification

	// busClosedMsg means the runtime shut down and no more events follow.
	busClosedMsg struct{}

	// submitResultMsg reports the outcome of a Submit call.
	submitResultMsg struct {
		taskID string
		err    error
	}

	// confirmResultMsg reports the outcome of answering a confirmation.
	confirmResultMsg struct {
		err error
	}

	// backendResultMsg reports the outcome of a backend model switch.
	backendResultMsg struct {
		model string
		err   error
	}

	// bridgeResultMsg reports the outcome of a bridge tool refresh.
	bridgeResultMsg struct {
		server string
		err    error
	}

	// clipboardResultMsg reports the outcome of a clipboard copy.
	clipboardResultMsg struct {
		err error
	}
)
