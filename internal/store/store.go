// Package store owns the durable records of the bot: customer dialog state,
// manager assignments, message history, orders and the loyalty ledger.
package store

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned by conditional updates when the expected
	// previous value no longer matches (a concurrent writer won).
	ErrConflict = errors.New("store: conditional update conflict")
)

// Sender identifies which side of a dialog produced a message.
type Sender string

const (
	SenderCustomer Sender = "customer"
	SenderManager  Sender = "manager"
)

// CustomerState tracks one customer's dialog.
// Invariant: ManagerID != "" implies IsActive.
type CustomerState struct {
	CustomerID   string
	IsActive     bool
	IsNotified   bool
	ManagerID    string // empty = unassigned
	LastActivity time.Time
}

// ManagerAssignment mirrors CustomerState.ManagerID from the manager's side.
type ManagerAssignment struct {
	ManagerID        string
	ActiveCustomerID string // empty = no active dialog
}

// Message is one relayed dialog turn. Append-only.
type Message struct {
	ID         string
	CustomerID string
	Sender     Sender
	Text       string
	Timestamp  time.Time
}

// OrderStatus is the linear order progression.
type OrderStatus string

const (
	StatusPacking               OrderStatus = "packing"
	StatusInTransitFromSupplier OrderStatus = "in_transit_from_supplier"
	StatusDomesticDelivery      OrderStatus = "domestic_delivery"
	StatusCompleted             OrderStatus = "completed"
)

// Order is created once during an active dialog and mutated only through
// status transitions.
type Order struct {
	ID          string
	CustomerID  string
	Status      OrderStatus
	Price       int64 // minor currency units
	Description string
	CreatedAt   time.Time
}

// BonusAccount is the loyalty balance for one customer.
type BonusAccount struct {
	CustomerID string
	ExternalID string // linked external account, empty if unlinked
	Balance    int64  // minor currency units
	UpdatedAt  time.Time
}

// BonusCode is a single-use credit voucher.
type BonusCode struct {
	ID         string
	Code       string
	Value      int64
	Active     bool
	ExternalID string // external account to link on redemption, optional
	RedeemedBy string
	RedeemedAt *time.Time
}

// Store is the record-access contract shared by all components. Each method
// is a single short-lived operation; conditional updates return ErrConflict
// instead of silently overwriting a concurrent writer.
type Store interface {
	// GetCustomerState returns ErrNotFound for unknown customers.
	GetCustomerState(customerID string) (*CustomerState, error)
	// PutCustomerState creates or replaces the record.
	PutCustomerState(cs *CustomerState) error
	// SetManager assigns managerID (or clears it when empty) only if the
	// customer is active and currently assigned to expectedPrev.
	SetManager(customerID, managerID, expectedPrev string) error
	// TouchCustomer bumps LastActivity without touching any other field,
	// so it cannot clobber a concurrent claim.
	TouchCustomer(customerID string) error
	// MarkNotified flips IsNotified exactly once per open dialog; returns
	// ErrConflict if the dialog is closed or already notified.
	MarkNotified(customerID string) error
	// ListPendingCustomers returns active, unassigned customers ordered by
	// last activity, oldest first.
	ListPendingCustomers() ([]*CustomerState, error)

	// GetAssignment never fails for unknown managers: it reports an empty
	// assignment.
	GetAssignment(managerID string) (*ManagerAssignment, error)
	// PutAssignment creates or replaces the record unconditionally.
	PutAssignment(a *ManagerAssignment) error
	// SetActiveCustomer points the manager at customerID (or clears it when
	// empty) only if the current value equals expectedPrev.
	SetActiveCustomer(managerID, customerID, expectedPrev string) error

	AppendMessage(m Message) error
	// ListMessages returns the customer's history ordered by time ascending.
	ListMessages(customerID string) ([]Message, error)

	// CreateOrder is idempotent on Order.ID: creating an existing id is a
	// no-op.
	CreateOrder(o *Order) error
	GetOrder(id string) (*Order, error)
	UpdateOrderStatus(id string, status OrderStatus) error
	ListOrdersByCustomer(customerID string) ([]*Order, error)
	// ListOpenOrders returns all orders not yet completed.
	ListOpenOrders() ([]*Order, error)

	// EnsureBonusAccount creates a zero-balance account on first touch and
	// reports whether it was created by this call.
	EnsureBonusAccount(customerID string) (acct *BonusAccount, created bool, err error)
	// AdjustBonusBalance applies a signed delta and returns the new balance.
	AdjustBonusBalance(customerID string, delta int64) (int64, error)
	SetBonusBalance(customerID string, balance int64) error
	LinkExternalAccount(customerID, externalID string) error

	GetBonusCode(code string) (*BonusCode, error)
	// RedeemBonusCode deactivates the code for customerID; ErrConflict if it
	// was already used.
	RedeemBonusCode(codeID, customerID string) error
}
