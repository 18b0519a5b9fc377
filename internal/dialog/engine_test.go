package dialog

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/partsline/supportbot/internal/store"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  map[string][]string // recipient -> texts
	fail  map[string]error    // recipient -> forced error
	calls int
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(map[string][]string), fail: make(map[string]error)}
}

func (f *fakeSender) SendText(_ context.Context, recipientID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.fail[recipientID]; err != nil {
		return err
	}
	f.sent[recipientID] = append(f.sent[recipientID], text)
	return nil
}

func (f *fakeSender) lastTo(recipientID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.sent[recipientID]
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}

func (f *fakeSender) countTo(recipientID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent[recipientID])
}

type fakeAnnouncer struct {
	mu        sync.Mutex
	announced []string
}

func (f *fakeAnnouncer) AnnouncePending(_ context.Context, customerID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.announced = append(f.announced, customerID)
	return nil
}

func (f *fakeAnnouncer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.announced)
}

func newTestEngine(t *testing.T) (*Engine, *fakeSender, *fakeAnnouncer, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { s.DB().Close() })
	sender := newFakeSender()
	announcer := &fakeAnnouncer{}
	return NewEngine(s, sender, announcer, nil), sender, announcer, s
}

func TestOpenRequestTransitions(t *testing.T) {
	e, _, _, s := newTestEngine(t)
	ctx := context.Background()

	if err := e.OpenRequest(ctx, "c1"); err != nil {
		t.Fatalf("open: %v", err)
	}

	cs, err := s.GetCustomerState("c1")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if got := StateOf(cs); got != StateAwaitingManager {
		t.Errorf("expected awaiting_manager, got %s", got)
	}
}

func TestOpenRequestResetsExistingDialog(t *testing.T) {
	e, _, _, s := newTestEngine(t)
	ctx := context.Background()

	e.OpenRequest(ctx, "c1")
	if _, err := e.Claim(ctx, "m1", "c1"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Reopening closes the old dialog and frees the manager.
	if err := e.OpenRequest(ctx, "c1"); err != nil {
		t.Fatalf("reopen: %v", err)
	}

	cs, _ := s.GetCustomerState("c1")
	if StateOf(cs) != StateAwaitingManager || cs.ManagerID != "" {
		t.Errorf("unexpected state after reopen: %+v", cs)
	}
	a, _ := s.GetAssignment("m1")
	if a.ActiveCustomerID != "" {
		t.Errorf("manager still assigned: %q", a.ActiveCustomerID)
	}
}

func TestCustomerMessageAnnouncesOnce(t *testing.T) {
	e, sender, announcer, _ := newTestEngine(t)
	ctx := context.Background()

	e.OpenRequest(ctx, "c1")

	if err := e.CustomerMessage(ctx, "c1", "hello"); err != nil {
		t.Fatalf("first message: %v", err)
	}
	if announcer.count() != 1 {
		t.Fatalf("expected 1 announcement, got %d", announcer.count())
	}

	// Second and third messages get a please-wait, never another announcement.
	for i := 0; i < 2; i++ {
		if err := e.CustomerMessage(ctx, "c1", fmt.Sprintf("still there? %d", i)); err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
	}
	if announcer.count() != 1 {
		t.Errorf("expected 1 announcement after repeats, got %d", announcer.count())
	}
	if sender.countTo("c1") != 2 {
		t.Errorf("expected 2 please-wait acks, got %d", sender.countTo("c1"))
	}
}

func TestCustomerMessageWithoutDialog(t *testing.T) {
	e, _, _, _ := newTestEngine(t)

	err := e.CustomerMessage(context.Background(), "c1", "hello")
	if !errors.Is(err, ErrNoActiveDialog) {
		t.Fatalf("expected ErrNoActiveDialog, got %v", err)
	}
}

func TestRelayBothDirections(t *testing.T) {
	e, sender, _, _ := newTestEngine(t)
	ctx := context.Background()

	e.OpenRequest(ctx, "c1")
	e.CustomerMessage(ctx, "c1", "hello")
	if _, err := e.Claim(ctx, "m1", "c1"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := e.CustomerMessage(ctx, "c1", "need brake pads"); err != nil {
		t.Fatalf("customer relay: %v", err)
	}
	if got := sender.lastTo("m1"); got != "need brake pads" {
		t.Errorf("manager received %q", got)
	}

	if err := e.ManagerMessage(ctx, "m1", "on it"); err != nil {
		t.Fatalf("manager relay: %v", err)
	}
	if got := sender.lastTo("c1"); got != "on it" {
		t.Errorf("customer received %q", got)
	}

	history, err := e.History("c1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 recorded turns, got %d", len(history))
	}
	if history[2].Sender != store.SenderManager {
		t.Errorf("last turn sender %q", history[2].Sender)
	}
}

func TestDeliveryFailureKeepsMessage(t *testing.T) {
	e, sender, _, _ := newTestEngine(t)
	ctx := context.Background()

	e.OpenRequest(ctx, "c1")
	e.CustomerMessage(ctx, "c1", "hello")
	e.Claim(ctx, "m1", "c1")

	sender.fail["m1"] = errors.New("blocked")

	err := e.CustomerMessage(ctx, "c1", "are you there")
	var derr *DeliveryError
	if !errors.As(err, &derr) || derr.RecipientID != "m1" {
		t.Fatalf("expected DeliveryError for m1, got %v", err)
	}

	// Message persisted despite the failed relay.
	history, _ := e.History("c1")
	if len(history) != 2 || history[1].Text != "are you there" {
		t.Errorf("message lost on delivery failure: %d turns", len(history))
	}
}

func TestManagerMessageAfterCustomerClose(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	e.OpenRequest(ctx, "c1")
	e.CustomerMessage(ctx, "c1", "hello")
	e.Claim(ctx, "m1", "c1")

	if err := e.Close(ctx, "c1", store.SenderCustomer); err != nil {
		t.Fatalf("close: %v", err)
	}

	err := e.ManagerMessage(ctx, "m1", "hello?")
	if !errors.Is(err, ErrNoActiveDialog) {
		t.Fatalf("expected ErrNoActiveDialog, got %v", err)
	}
}

func TestManagerMessageClearsStalePointer(t *testing.T) {
	e, _, _, s := newTestEngine(t)
	ctx := context.Background()

	e.OpenRequest(ctx, "c1")
	e.Claim(ctx, "m1", "c1")

	// Force the inconsistency: dialog closed but assignment still set.
	cs, _ := s.GetCustomerState("c1")
	cs.IsActive = false
	cs.ManagerID = ""
	if err := s.PutCustomerState(cs); err != nil {
		t.Fatalf("put: %v", err)
	}

	err := e.ManagerMessage(ctx, "m1", "hello?")
	if !errors.Is(err, ErrCustomerGone) {
		t.Fatalf("expected ErrCustomerGone, got %v", err)
	}

	a, _ := s.GetAssignment("m1")
	if a.ActiveCustomerID != "" {
		t.Errorf("stale assignment not cleared: %q", a.ActiveCustomerID)
	}
}

func TestCloseIdempotent(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	e.OpenRequest(ctx, "c1")
	if err := e.Close(ctx, "c1", store.SenderCustomer); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := e.Close(ctx, "c1", store.SenderCustomer); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := e.Close(ctx, "unknown", store.SenderCustomer); err != nil {
		t.Fatalf("close unknown: %v", err)
	}
}

func TestCloseNotifiesBothSides(t *testing.T) {
	e, sender, _, _ := newTestEngine(t)
	ctx := context.Background()

	e.OpenRequest(ctx, "c1")
	e.Claim(ctx, "m1", "c1")

	if err := e.Release(ctx, "m1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if got := sender.lastTo("c1"); got != dialogClosedText {
		t.Errorf("customer not told about close: %q", got)
	}
	// Manager initiated the close, no echo back.
	if sender.countTo("m1") != 0 {
		t.Errorf("manager got %d messages", sender.countTo("m1"))
	}
}
