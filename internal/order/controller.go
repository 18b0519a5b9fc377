// Package order owns order creation and the delivery status machine. Orders
// are opened by a manager during an active dialog through a two-step
// capture: price first, then description.
package order

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/partsline/supportbot/internal/money"
	"github.com/partsline/supportbot/internal/store"
)

var (
	// ErrInvalidInput means the submitted value did not parse; the capture
	// keeps waiting for a corrected value.
	ErrInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound is returned for unknown order ids.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderCompleted means the order reached its terminal status and
	// accepts no further transitions.
	ErrOrderCompleted = errors.New("order: already completed")
	// ErrInvalidTransition means the target status is not the allowed next
	// step in the delivery progression.
	ErrInvalidTransition = errors.New("order: invalid status transition")
	// ErrNoCapture means the manager has no order capture in progress.
	ErrNoCapture = errors.New("order: no capture in progress")
	// ErrDialogChanged means the manager's active dialog no longer matches
	// the one the capture started in; the capture is discarded.
	ErrDialogChanged = errors.New("order: active dialog changed during capture")
)

// Step is the capture stage reported back after each Submit.
type Step int

const (
	// StepPrice means the controller is waiting for the order price.
	StepPrice Step = iota
	// StepDescription means the price was accepted and the controller is
	// waiting for the description.
	StepDescription
	// StepDone means the order was created.
	StepDone
)

const idAttempts = 5

// statusOrder is the linear delivery progression.
var statusOrder = []store.OrderStatus{
	store.StatusPacking,
	store.StatusInTransitFromSupplier,
	store.StatusDomesticDelivery,
	store.StatusCompleted,
}

var statusLabels = map[store.OrderStatus]string{
	store.StatusPacking:               "Packing",
	store.StatusInTransitFromSupplier: "In transit from supplier",
	store.StatusDomesticDelivery:      "Domestic delivery",
	store.StatusCompleted:             "Completed",
}

// capture is one manager's in-progress order, tagged with the customer it
// was started for so a dialog switch mid-capture is caught.
type capture struct {
	customerID string
	step       Step
	price      int64
}

// Assignments reports which customer a manager currently holds.
type Assignments interface {
	ActiveCustomer(managerID string) (string, error)
}

// Controller drives order captures and status transitions.
type Controller struct {
	store       store.Store
	assignments Assignments
	logger      *slog.Logger

	mu       sync.Mutex
	captures map[string]*capture // keyed by manager id
}

// NewController wires the order controller.
func NewController(s store.Store, assignments Assignments, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		store:       s,
		assignments: assignments,
		logger:      logger,
		captures:    make(map[string]*capture),
	}
}

// BeginCapture starts an order capture for the manager's active customer.
// ErrDialogChanged when the manager holds no customer.
func (c *Controller) BeginCapture(managerID string) error {
	customerID, err := c.assignments.ActiveCustomer(managerID)
	if err != nil {
		return err
	}
	if customerID == "" {
		return ErrDialogChanged
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.captures[managerID] = &capture{customerID: customerID, step: StepPrice}
	return nil
}

// CaptureActive reports whether the manager has a capture in progress, so
// free-text turns can be routed to the capture instead of the dialog.
func (c *Controller) CaptureActive(managerID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.captures[managerID]
	return ok
}

// Abort discards the manager's capture, if any.
func (c *Controller) Abort(managerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.captures, managerID)
}

// Submit feeds one value into the manager's capture. The assignment is
// re-validated on every step; a changed dialog discards the capture. On
// ErrInvalidInput the capture stays where it is so the manager can retry.
// When the description is accepted the order is created and returned.
func (c *Controller) Submit(ctx context.Context, managerID, text string) (Step, *store.Order, error) {
	c.mu.Lock()
	st, ok := c.captures[managerID]
	if !ok {
		c.mu.Unlock()
		return 0, nil, ErrNoCapture
	}
	snapshot := *st
	c.mu.Unlock()

	customerID, err := c.assignments.ActiveCustomer(managerID)
	if err != nil {
		return 0, nil, err
	}
	if customerID != snapshot.customerID {
		c.Abort(managerID)
		return 0, nil, ErrDialogChanged
	}

	switch snapshot.step {
	case StepPrice:
		units, perr := money.Parse(text)
		if perr != nil || units <= 0 {
			return StepPrice, nil, fmt.Errorf("%w: price %q", ErrInvalidInput, text)
		}
		c.mu.Lock()
		st.price = units
		st.step = StepDescription
		c.mu.Unlock()
		return StepDescription, nil, nil

	case StepDescription:
		if text == "" {
			return StepDescription, nil, fmt.Errorf("%w: empty description", ErrInvalidInput)
		}
		o, cerr := c.create(ctx, snapshot.customerID, snapshot.price, text)
		if cerr != nil {
			return StepDescription, nil, cerr
		}
		c.Abort(managerID)
		return StepDone, o, nil

	default:
		return 0, nil, ErrNoCapture
	}
}

func (c *Controller) create(_ context.Context, customerID string, price int64, description string) (*store.Order, error) {
	var id string
	for attempt := 0; ; attempt++ {
		id = newOrderID(customerID)
		_, err := c.store.GetOrder(id)
		if errors.Is(err, store.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		if attempt+1 >= idAttempts {
			return nil, fmt.Errorf("order: id generation exhausted after %d attempts", idAttempts)
		}
	}

	o := &store.Order{
		ID:          id,
		CustomerID:  customerID,
		Status:      store.StatusPacking,
		Price:       price,
		Description: description,
		CreatedAt:   time.Now(),
	}
	if err := c.store.CreateOrder(o); err != nil {
		return nil, fmt.Errorf("order: create %s: %w", id, err)
	}

	c.logger.Info("order created", "order", id, "customer", customerID, "price", money.Format(price))
	return o, nil
}

// ChangeStatus advances the order to the given status. Only the next status
// in the progression is accepted, and completed orders reject everything.
func (c *Controller) ChangeStatus(id string, target store.OrderStatus) (*store.Order, error) {
	o, err := c.store.GetOrder(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	if o.Status == store.StatusCompleted {
		return nil, ErrOrderCompleted
	}

	next, ok := nextStatus(o.Status)
	if !ok || target != next {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, target)
	}

	if err := c.store.UpdateOrderStatus(id, target); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	o.Status = target

	c.logger.Info("order status changed", "order", id, "status", target)
	return o, nil
}

// Get returns one order, ErrOrderNotFound when it does not exist.
func (c *Controller) Get(id string) (*store.Order, error) {
	o, err := c.store.GetOrder(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	return o, err
}

// ForCustomer lists all of a customer's orders, newest first.
func (c *Controller) ForCustomer(customerID string) ([]*store.Order, error) {
	return c.store.ListOrdersByCustomer(customerID)
}

// Open lists all orders still in progress.
func (c *Controller) Open() ([]*store.Order, error) {
	return c.store.ListOpenOrders()
}

// NextStatuses returns the statuses the order can move to next: at most one,
// and none once completed.
func NextStatuses(current store.OrderStatus) []store.OrderStatus {
	if next, ok := nextStatus(current); ok {
		return []store.OrderStatus{next}
	}
	return nil
}

// StatusLabel returns the human-readable label for a status.
func StatusLabel(s store.OrderStatus) string {
	if label, ok := statusLabels[s]; ok {
		return label
	}
	return string(s)
}

func nextStatus(current store.OrderStatus) (store.OrderStatus, bool) {
	for i, s := range statusOrder {
		if s == current && i+1 < len(statusOrder) {
			return statusOrder[i+1], true
		}
	}
	return "", false
}

// newOrderID builds a short, hard-to-guess id: six random digits plus the
// tail of the customer id, so support staff can eyeball who it belongs to.
func newOrderID(customerID string) string {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		// crypto/rand failing means the platform is broken; fall back to
		// the clock rather than refuse to trade.
		n = big.NewInt(time.Now().UnixNano() % 1_000_000)
	}
	tail := customerID
	if len(tail) > 4 {
		tail = tail[len(tail)-4:]
	}
	return fmt.Sprintf("%06d%s", n.Int64(), tail)
}
