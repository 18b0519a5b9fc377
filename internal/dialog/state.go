package dialog

import "github.com/partsline/supportbot/internal/store"

// State is the customer's position in the dialog lifecycle, derived from
// the stored record rather than kept separately.
type State string

const (
	// StateIdle means no open dialog.
	StateIdle State = "idle"
	// StateAwaitingManager means the dialog is open but no manager has
	// been announced to yet.
	StateAwaitingManager State = "awaiting_manager"
	// StateNotified means managers were announced to and the customer is
	// in the pending queue.
	StateNotified State = "notified"
	// StateInDialog means a manager is assigned and messages flow both ways.
	StateInDialog State = "in_dialog"
)

// StateOf derives the lifecycle state from a stored customer record.
func StateOf(cs *store.CustomerState) State {
	switch {
	case !cs.IsActive:
		return StateIdle
	case cs.ManagerID != "":
		return StateInDialog
	case cs.IsNotified:
		return StateNotified
	default:
		return StateAwaitingManager
	}
}
