package dialog

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestClaimReturnsHistory(t *testing.T) {
	e, sender, _, _ := newTestEngine(t)
	ctx := context.Background()

	e.OpenRequest(ctx, "c1")
	e.CustomerMessage(ctx, "c1", "hello")
	e.CustomerMessage(ctx, "c1", "anyone?")

	history, err := e.Claim(ctx, "m1", "c1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(history))
	}
	if got := sender.lastTo("c1"); got != managerJoinedText {
		t.Errorf("customer not told about join: %q", got)
	}
}

func TestClaimIdempotentForSameManager(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	e.OpenRequest(ctx, "c1")
	e.CustomerMessage(ctx, "c1", "hello")

	if _, err := e.Claim(ctx, "m1", "c1"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	history, err := e.Claim(ctx, "m1", "c1")
	if err != nil {
		t.Fatalf("repeat claim: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("expected history on repeat claim, got %d turns", len(history))
	}
}

func TestClaimByTwoManagers(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	e.OpenRequest(ctx, "c1")

	if _, err := e.Claim(ctx, "m1", "c1"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if _, err := e.Claim(ctx, "m2", "c1"); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
}

func TestClaimWhileBusy(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	e.OpenRequest(ctx, "c1")
	e.OpenRequest(ctx, "c2")

	if _, err := e.Claim(ctx, "m1", "c1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := e.Claim(ctx, "m1", "c2"); !errors.Is(err, ErrManagerBusy) {
		t.Fatalf("expected ErrManagerBusy, got %v", err)
	}
}

func TestClaimClosedCustomer(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	e.OpenRequest(ctx, "c1")
	e.Close(ctx, "c1", "customer")

	if _, err := e.Claim(ctx, "m1", "c1"); !errors.Is(err, ErrCustomerGone) {
		t.Fatalf("expected ErrCustomerGone, got %v", err)
	}
	if _, err := e.Claim(ctx, "m1", "never-seen"); !errors.Is(err, ErrCustomerGone) {
		t.Fatalf("expected ErrCustomerGone for unknown customer, got %v", err)
	}
}

func TestConcurrentClaimsOneWinner(t *testing.T) {
	e, _, _, s := newTestEngine(t)
	ctx := context.Background()

	e.OpenRequest(ctx, "c1")

	const managers = 8
	var wg sync.WaitGroup
	errs := make([]error, managers)
	for i := 0; i < managers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			managerID := string(rune('a' + i))
			_, errs[i] = e.Claim(ctx, managerID, "c1")
		}()
	}
	wg.Wait()

	winners := 0
	for i, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrAlreadyClaimed):
		default:
			t.Errorf("manager %d: unexpected error %v", i, err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", winners)
	}

	cs, err := s.GetCustomerState("c1")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if cs.ManagerID == "" || StateOf(cs) != StateInDialog {
		t.Errorf("customer not assigned after race: %+v", cs)
	}
	a, _ := s.GetAssignment(cs.ManagerID)
	if a.ActiveCustomerID != "c1" {
		t.Errorf("winner assignment mismatch: %q", a.ActiveCustomerID)
	}
}

func TestReleaseWithoutDialog(t *testing.T) {
	e, _, _, _ := newTestEngine(t)

	if err := e.Release(context.Background(), "m1"); !errors.Is(err, ErrNoActiveDialog) {
		t.Fatalf("expected ErrNoActiveDialog, got %v", err)
	}
}
