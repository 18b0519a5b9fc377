// Package dialog routes messages between customers and managers and owns
// the dialog lifecycle: opening requests, claiming, relaying and closing.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/partsline/supportbot/internal/store"
)

// Sender delivers outbound text to one recipient on the chat platform.
type Sender interface {
	SendText(ctx context.Context, recipientID, text string) error
}

// Announcer posts new-customer announcements to the manager side.
type Announcer interface {
	AnnouncePending(ctx context.Context, customerID, preview string) error
}

const (
	pleaseWaitText    = "All managers are busy at the moment, please wait. You will be answered shortly."
	managerJoinedText = "A manager has joined the conversation."
	dialogClosedText  = "The conversation has been closed. Send /start to open a new one."
	dialogEndedText   = "Dialog closed."
)

// Engine coordinates dialog state transitions and message routing.
type Engine struct {
	store  store.Store
	sender Sender
	notify Announcer
	logger *slog.Logger
}

// NewEngine wires the routing engine. notify may be nil in tests.
func NewEngine(s store.Store, sender Sender, notify Announcer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: s, sender: sender, notify: notify, logger: logger}
}

// EnsureCustomer creates an idle record for the customer on first contact.
func (e *Engine) EnsureCustomer(customerID string) (*store.CustomerState, error) {
	cs, err := e.store.GetCustomerState(customerID)
	if err == nil {
		return cs, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	cs = &store.CustomerState{CustomerID: customerID, LastActivity: time.Now()}
	if err := e.store.PutCustomerState(cs); err != nil {
		return nil, fmt.Errorf("dialog: init customer %s: %w", customerID, err)
	}
	return cs, nil
}

// OpenRequest opens a fresh dialog for the customer. An already-open dialog
// is closed first so a restart always lands in a clean waiting state.
func (e *Engine) OpenRequest(ctx context.Context, customerID string) error {
	cs, err := e.EnsureCustomer(customerID)
	if err != nil {
		return err
	}

	if cs.IsActive {
		if err := e.Close(ctx, customerID, store.SenderCustomer); err != nil {
			return err
		}
	}

	cs = &store.CustomerState{
		CustomerID:   customerID,
		IsActive:     true,
		LastActivity: time.Now(),
	}
	if err := e.store.PutCustomerState(cs); err != nil {
		return fmt.Errorf("dialog: open request for %s: %w", customerID, err)
	}

	e.logger.Info("dialog opened", "customer", customerID)
	return nil
}

// CustomerMessage records a customer turn and routes it: relayed to the
// assigned manager, or announced to the manager group exactly once, or
// acknowledged with a please-wait while the customer stays in the queue.
// Returns ErrNoActiveDialog when the customer has no open dialog.
func (e *Engine) CustomerMessage(ctx context.Context, customerID, text string) error {
	cs, err := e.store.GetCustomerState(customerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNoActiveDialog
		}
		return err
	}
	if !cs.IsActive {
		return ErrNoActiveDialog
	}

	if err := e.append(customerID, store.SenderCustomer, text); err != nil {
		return err
	}

	if err := e.store.TouchCustomer(customerID); err != nil {
		e.logger.Warn("activity bump failed", "customer", customerID, "error", err)
	}

	if cs.ManagerID != "" {
		return e.deliver(ctx, cs.ManagerID, text)
	}

	// First unassigned message announces the customer; every later one
	// gets a please-wait while the announcement stands.
	err = e.store.MarkNotified(customerID)
	switch {
	case err == nil:
		if e.notify != nil {
			if nerr := e.notify.AnnouncePending(ctx, customerID, text); nerr != nil {
				e.logger.Error("pending announcement failed", "customer", customerID, "error", nerr)
			}
		}
		return nil
	case errors.Is(err, store.ErrConflict):
		return e.deliver(ctx, customerID, pleaseWaitText)
	default:
		return err
	}
}

// ManagerMessage relays a manager turn to their active customer. A stale
// assignment (the customer closed meanwhile) is cleared and reported as
// ErrCustomerGone.
func (e *Engine) ManagerMessage(ctx context.Context, managerID, text string) error {
	a, err := e.store.GetAssignment(managerID)
	if err != nil {
		return err
	}
	if a.ActiveCustomerID == "" {
		return ErrNoActiveDialog
	}
	customerID := a.ActiveCustomerID

	cs, err := e.store.GetCustomerState(customerID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if err != nil || !cs.IsActive || cs.ManagerID != managerID {
		if cerr := e.store.SetActiveCustomer(managerID, "", customerID); cerr != nil && !errors.Is(cerr, store.ErrConflict) {
			e.logger.Warn("stale assignment cleanup failed", "manager", managerID, "error", cerr)
		}
		return ErrCustomerGone
	}

	if err := e.append(customerID, store.SenderManager, text); err != nil {
		return err
	}
	return e.deliver(ctx, customerID, text)
}

// Close ends the customer's dialog. Closing an already-idle dialog is a
// no-op. Both sides are told the dialog ended; delivery failures do not
// undo the close.
func (e *Engine) Close(ctx context.Context, customerID string, initiator store.Sender) error {
	cs, err := e.store.GetCustomerState(customerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if !cs.IsActive {
		return nil
	}
	managerID := cs.ManagerID

	cs.IsActive = false
	cs.IsNotified = false
	cs.ManagerID = ""
	cs.LastActivity = time.Now()
	if err := e.store.PutCustomerState(cs); err != nil {
		return fmt.Errorf("dialog: close for %s: %w", customerID, err)
	}

	if managerID != "" {
		if err := e.store.SetActiveCustomer(managerID, "", customerID); err != nil && !errors.Is(err, store.ErrConflict) {
			e.logger.Warn("assignment clear failed", "manager", managerID, "error", err)
		}
	}

	e.logger.Info("dialog closed", "customer", customerID, "manager", managerID, "initiator", initiator)

	if initiator != store.SenderCustomer {
		e.deliverBestEffort(ctx, customerID, dialogClosedText)
	}
	if managerID != "" && initiator != store.SenderManager {
		e.deliverBestEffort(ctx, managerID, dialogEndedText)
	}
	return nil
}

// History returns the customer's full message transcript, oldest first.
func (e *Engine) History(customerID string) ([]store.Message, error) {
	return e.store.ListMessages(customerID)
}

// PendingCustomers lists open, unassigned customers, oldest activity first.
func (e *Engine) PendingCustomers() ([]*store.CustomerState, error) {
	return e.store.ListPendingCustomers()
}

func (e *Engine) append(customerID string, sender store.Sender, text string) error {
	m := store.Message{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		Sender:     sender,
		Text:       text,
		Timestamp:  time.Now(),
	}
	if err := e.store.AppendMessage(m); err != nil {
		return fmt.Errorf("dialog: record message for %s: %w", customerID, err)
	}
	return nil
}

func (e *Engine) deliver(ctx context.Context, recipientID, text string) error {
	if err := e.sender.SendText(ctx, recipientID, text); err != nil {
		e.logger.Warn("delivery failed", "recipient", recipientID, "error", err)
		return &DeliveryError{RecipientID: recipientID, Err: err}
	}
	return nil
}

func (e *Engine) deliverBestEffort(ctx context.Context, recipientID, text string) {
	if err := e.sender.SendText(ctx, recipientID, text); err != nil {
		e.logger.Warn("delivery failed", "recipient", recipientID, "error", err)
	}
}
