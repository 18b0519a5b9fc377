package dialog

import (
	"context"
	"errors"
	"fmt"

	"github.com/partsline/supportbot/internal/store"
)

// Claim assigns the customer to the manager and returns the dialog
// transcript so the manager can catch up. The claim is race-safe: when
// several managers press the button at once exactly one wins, and the
// losers learn why.
//
// A repeat claim by the manager who already holds the customer succeeds
// and just returns the transcript again.
func (e *Engine) Claim(ctx context.Context, managerID, customerID string) ([]store.Message, error) {
	a, err := e.store.GetAssignment(managerID)
	if err != nil {
		return nil, err
	}
	if a.ActiveCustomerID == customerID && customerID != "" {
		return e.store.ListMessages(customerID)
	}
	if a.ActiveCustomerID != "" {
		return nil, ErrManagerBusy
	}

	cs, err := e.store.GetCustomerState(customerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrCustomerGone
		}
		return nil, err
	}
	if !cs.IsActive {
		return nil, ErrCustomerGone
	}
	if cs.ManagerID == managerID {
		// Customer already ours but our assignment record lagged; repair it.
		if err := e.store.SetActiveCustomer(managerID, customerID, ""); err != nil && !errors.Is(err, store.ErrConflict) {
			return nil, err
		}
		return e.store.ListMessages(customerID)
	}
	if cs.ManagerID != "" {
		return nil, ErrAlreadyClaimed
	}

	// Customer side first. Loser of the race classifies by re-reading.
	if err := e.store.SetManager(customerID, managerID, ""); err != nil {
		if !errors.Is(err, store.ErrConflict) {
			return nil, err
		}
		return nil, e.classifyClaimLoss(customerID, managerID)
	}

	// Manager side. On conflict someone assigned us concurrently; undo
	// the customer-side write so the customer returns to the queue.
	if err := e.store.SetActiveCustomer(managerID, customerID, ""); err != nil {
		if !errors.Is(err, store.ErrConflict) {
			return nil, err
		}
		if rerr := e.store.SetManager(customerID, "", managerID); rerr != nil && !errors.Is(rerr, store.ErrConflict) {
			e.logger.Error("claim rollback failed", "customer", customerID, "manager", managerID, "error", rerr)
		}
		return nil, ErrManagerBusy
	}

	e.logger.Info("customer claimed", "customer", customerID, "manager", managerID)
	e.deliverBestEffort(ctx, customerID, managerJoinedText)

	return e.store.ListMessages(customerID)
}

func (e *Engine) classifyClaimLoss(customerID, managerID string) error {
	cs, err := e.store.GetCustomerState(customerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrCustomerGone
		}
		return err
	}
	switch {
	case !cs.IsActive:
		return ErrCustomerGone
	case cs.ManagerID != "" && cs.ManagerID != managerID:
		return ErrAlreadyClaimed
	default:
		return fmt.Errorf("dialog: claim of %s by %s lost: %w", customerID, managerID, store.ErrConflict)
	}
}

// Release closes the manager's current dialog. ErrNoActiveDialog when the
// manager holds none.
func (e *Engine) Release(ctx context.Context, managerID string) error {
	a, err := e.store.GetAssignment(managerID)
	if err != nil {
		return err
	}
	if a.ActiveCustomerID == "" {
		return ErrNoActiveDialog
	}
	return e.Close(ctx, a.ActiveCustomerID, store.SenderManager)
}

// ActiveCustomer reports which customer the manager currently holds, empty
// when none.
func (e *Engine) ActiveCustomer(managerID string) (string, error) {
	a, err := e.store.GetAssignment(managerID)
	if err != nil {
		return "", err
	}
	return a.ActiveCustomerID, nil
}
