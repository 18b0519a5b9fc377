package dialog

import (
	"errors"
	"fmt"
)

var (
	// ErrManagerBusy means the manager already has an active dialog and
	// must close it before taking another customer.
	ErrManagerBusy = errors.New("dialog: manager already in a dialog")
	// ErrAlreadyClaimed means another manager took the customer first.
	ErrAlreadyClaimed = errors.New("dialog: customer already claimed")
	// ErrCustomerGone means the customer's dialog closed before or during
	// the attempted operation.
	ErrCustomerGone = errors.New("dialog: customer dialog is closed")
	// ErrNoActiveDialog means the sender has no open dialog to act on.
	ErrNoActiveDialog = errors.New("dialog: no active dialog")
)

// DeliveryError reports that a message was recorded but could not be
// delivered to its recipient. The dialog state is unaffected.
type DeliveryError struct {
	RecipientID string
	Err         error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("dialog: deliver to %s: %v", e.RecipientID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
