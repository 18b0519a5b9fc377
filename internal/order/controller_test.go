package order

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/partsline/supportbot/internal/store"
)

type fakeAssignments struct {
	active map[string]string
}

func (f *fakeAssignments) ActiveCustomer(managerID string) (string, error) {
	return f.active[managerID], nil
}

func newTestController(t *testing.T) (*Controller, *fakeAssignments, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { s.DB().Close() })
	a := &fakeAssignments{active: map[string]string{"m1": "c1"}}
	return NewController(s, a, nil), a, s
}

func TestCaptureHappyPath(t *testing.T) {
	c, _, _ := newTestController(t)
	ctx := context.Background()

	if err := c.BeginCapture("m1"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if !c.CaptureActive("m1") {
		t.Fatal("capture not active")
	}

	step, o, err := c.Submit(ctx, "m1", "1500.50")
	if err != nil || step != StepDescription || o != nil {
		t.Fatalf("price step: step=%v order=%v err=%v", step, o, err)
	}

	step, o, err = c.Submit(ctx, "m1", "front brake pads")
	if err != nil || step != StepDone {
		t.Fatalf("description step: step=%v err=%v", step, err)
	}
	if o.Price != 150050 || o.Description != "front brake pads" {
		t.Errorf("unexpected order: %+v", o)
	}
	if o.Status != store.StatusPacking {
		t.Errorf("expected packing, got %q", o.Status)
	}
	if o.CustomerID != "c1" {
		t.Errorf("expected c1, got %q", o.CustomerID)
	}
	if !strings.HasSuffix(o.ID, "c1") || len(o.ID) != 8 {
		t.Errorf("unexpected id format: %q", o.ID)
	}
	if c.CaptureActive("m1") {
		t.Error("capture still active after completion")
	}
}

func TestCaptureInvalidPriceKeepsStep(t *testing.T) {
	c, _, _ := newTestController(t)
	ctx := context.Background()

	c.BeginCapture("m1")

	for _, bad := range []string{"abc", "-5", "0", "1.234"} {
		step, _, err := c.Submit(ctx, "m1", bad)
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("price %q: expected ErrInvalidInput, got %v", bad, err)
		}
		if step != StepPrice {
			t.Fatalf("price %q: capture advanced to %v", bad, step)
		}
	}

	// A corrected value still works.
	step, _, err := c.Submit(ctx, "m1", "99.99")
	if err != nil || step != StepDescription {
		t.Fatalf("corrected price: step=%v err=%v", step, err)
	}
}

func TestCaptureDialogChanged(t *testing.T) {
	c, a, _ := newTestController(t)
	ctx := context.Background()

	c.BeginCapture("m1")
	c.Submit(ctx, "m1", "100")

	// Manager's dialog moves to a different customer mid-capture.
	a.active["m1"] = "c2"

	_, _, err := c.Submit(ctx, "m1", "oil filter")
	if !errors.Is(err, ErrDialogChanged) {
		t.Fatalf("expected ErrDialogChanged, got %v", err)
	}
	if c.CaptureActive("m1") {
		t.Error("capture survived dialog change")
	}
}

func TestBeginCaptureWithoutDialog(t *testing.T) {
	c, _, _ := newTestController(t)

	if err := c.BeginCapture("m2"); !errors.Is(err, ErrDialogChanged) {
		t.Fatalf("expected ErrDialogChanged, got %v", err)
	}
}

func TestSubmitWithoutCapture(t *testing.T) {
	c, _, _ := newTestController(t)

	_, _, err := c.Submit(context.Background(), "m1", "100")
	if !errors.Is(err, ErrNoCapture) {
		t.Fatalf("expected ErrNoCapture, got %v", err)
	}
}

func TestStatusProgression(t *testing.T) {
	c, _, s := newTestController(t)

	s.CreateOrder(&store.Order{ID: "o1", CustomerID: "c1", Status: store.StatusPacking, CreatedAt: time.Now()})

	steps := []store.OrderStatus{
		store.StatusInTransitFromSupplier,
		store.StatusDomesticDelivery,
		store.StatusCompleted,
	}
	for _, target := range steps {
		o, err := c.ChangeStatus("o1", target)
		if err != nil {
			t.Fatalf("to %s: %v", target, err)
		}
		if o.Status != target {
			t.Errorf("expected %s, got %s", target, o.Status)
		}
	}

	// Terminal status accepts nothing further.
	if _, err := c.ChangeStatus("o1", store.StatusPacking); !errors.Is(err, ErrOrderCompleted) {
		t.Fatalf("expected ErrOrderCompleted, got %v", err)
	}
}

func TestStatusSkipRejected(t *testing.T) {
	c, _, s := newTestController(t)

	s.CreateOrder(&store.Order{ID: "o1", CustomerID: "c1", Status: store.StatusPacking, CreatedAt: time.Now()})

	if _, err := c.ChangeStatus("o1", store.StatusCompleted); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	// Backwards is rejected too.
	if _, err := c.ChangeStatus("o1", store.StatusPacking); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestStatusUnknownOrder(t *testing.T) {
	c, _, _ := newTestController(t)

	if _, err := c.ChangeStatus("nope", store.StatusCompleted); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestNextStatuses(t *testing.T) {
	next := NextStatuses(store.StatusPacking)
	if len(next) != 1 || next[0] != store.StatusInTransitFromSupplier {
		t.Errorf("unexpected next for packing: %v", next)
	}
	if next := NextStatuses(store.StatusCompleted); next != nil {
		t.Errorf("completed should have no next, got %v", next)
	}
}

func TestNewOrderIDFormat(t *testing.T) {
	id := newOrderID("123456789")
	if len(id) != 10 || !strings.HasSuffix(id, "6789") {
		t.Errorf("unexpected id: %q", id)
	}

	short := newOrderID("c1")
	if len(short) != 8 || !strings.HasSuffix(short, "c1") {
		t.Errorf("unexpected short id: %q", short)
	}
}
