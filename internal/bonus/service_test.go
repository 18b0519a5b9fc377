package bonus

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/partsline/supportbot/internal/store"
)

func newTestService(t *testing.T, starter int64) (*Service, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { s.DB().Close() })
	return NewService(s, starter, nil), s
}

func TestWelcomeCreditsOnce(t *testing.T) {
	svc, _ := newTestService(t, 5000)

	balance, err := svc.Welcome("c1")
	if err != nil {
		t.Fatalf("welcome: %v", err)
	}
	if balance != 5000 {
		t.Fatalf("expected 5000, got %d", balance)
	}

	// A second welcome never credits again.
	balance, err = svc.Welcome("c1")
	if err != nil {
		t.Fatalf("second welcome: %v", err)
	}
	if balance != 5000 {
		t.Errorf("starter credited twice: %d", balance)
	}
}

func TestWelcomeDisabled(t *testing.T) {
	svc, _ := newTestService(t, 0)

	balance, err := svc.Welcome("c1")
	if err != nil {
		t.Fatalf("welcome: %v", err)
	}
	if balance != 0 {
		t.Errorf("expected 0, got %d", balance)
	}
}

func TestAddAndSet(t *testing.T) {
	svc, _ := newTestService(t, 0)

	balance, err := svc.Add("c1", 2500)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if balance != 2500 {
		t.Errorf("expected 2500, got %d", balance)
	}

	balance, _ = svc.Add("c1", -500)
	if balance != 2000 {
		t.Errorf("expected 2000, got %d", balance)
	}

	if err := svc.Set("c1", 99); err != nil {
		t.Fatalf("set: %v", err)
	}
	balance, _ = svc.Balance("c1")
	if balance != 99 {
		t.Errorf("expected 99, got %d", balance)
	}
}

func TestRedeemCode(t *testing.T) {
	svc, s := newTestService(t, 0)

	err := s.SaveBonusCode(&store.BonusCode{ID: "bc1", Code: "WELCOME10", Value: 1000, Active: true, ExternalID: "ig-7"})
	if err != nil {
		t.Fatalf("save code: %v", err)
	}

	balance, err := svc.Redeem("c1", "WELCOME10")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if balance != 1000 {
		t.Errorf("expected 1000, got %d", balance)
	}

	acct, err := svc.Account("c1")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if acct.ExternalID != "ig-7" {
		t.Errorf("external account not linked: %q", acct.ExternalID)
	}

	// Same code again, by anyone, is refused.
	if _, err := svc.Redeem("c2", "WELCOME10"); !errors.Is(err, ErrCodeUsed) {
		t.Fatalf("expected ErrCodeUsed, got %v", err)
	}
}

func TestRedeemUnknownCode(t *testing.T) {
	svc, _ := newTestService(t, 0)

	if _, err := svc.Redeem("c1", "NOPE"); !errors.Is(err, ErrCodeUnknown) {
		t.Fatalf("expected ErrCodeUnknown, got %v", err)
	}
}
