package gateway

import "github.com/rohan/waypoint/internal/observability"

// Notifier pushes lifecycle events to an external channel (Telegram,
// Discord, etc.). Notifiers subscribe to the event logger; delivery is
// best-effort and a notifier error never affects the run.
type Notifier interface {
	observability.Subscriber
	// Stop gracefully shuts down the notifier
	Stop() error
}

// terminalStates are the events worth pushing to a human channel; the
// per-step chatter stays in the local event log.
var terminalStates = map[observability.LifecycleState]bool{
	observability.StateTaskStart:  true,
	observability.StateTaskOK:     true,
	observability.StateTaskFail:   true,
	observability.StateTaskCancel: true,
}

// ShouldNotify filters events down to the externally interesting ones.
func ShouldNotify(evt observability.Event) bool {
	return terminalStates[evt.State]
}
