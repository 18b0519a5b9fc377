// Package bonus keeps the loyalty ledger: starter credits for new
// customers, balance adjustments and single-use code redemption.
package bonus

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/partsline/supportbot/internal/money"
	"github.com/partsline/supportbot/internal/store"
)

var (
	// ErrCodeUnknown means the code does not exist.
	ErrCodeUnknown = errors.New("bonus: unknown code")
	// ErrCodeUsed means the code was already redeemed.
	ErrCodeUsed = errors.New("bonus: code already redeemed")
)

// Service manages bonus accounts and codes.
type Service struct {
	store        store.Store
	starterUnits int64
	logger       *slog.Logger
}

// NewService wires the bonus service. starterUnits is credited to every
// account on first contact, zero to disable the welcome credit.
func NewService(s store.Store, starterUnits int64, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: s, starterUnits: starterUnits, logger: logger}
}

// Welcome ensures the customer has an account and credits the starter bonus
// exactly once, on the call that created the account. Returns the balance.
func (s *Service) Welcome(customerID string) (int64, error) {
	acct, created, err := s.store.EnsureBonusAccount(customerID)
	if err != nil {
		return 0, err
	}
	if !created {
		return acct.Balance, nil
	}
	if s.starterUnits == 0 {
		return acct.Balance, nil
	}

	balance, err := s.store.AdjustBonusBalance(customerID, s.starterUnits)
	if err != nil {
		return 0, fmt.Errorf("bonus: starter credit for %s: %w", customerID, err)
	}
	s.logger.Info("starter bonus credited", "customer", customerID, "amount", money.Format(s.starterUnits))
	return balance, nil
}

// Balance returns the customer's current balance, creating the account if
// needed (without the starter credit).
func (s *Service) Balance(customerID string) (int64, error) {
	acct, _, err := s.store.EnsureBonusAccount(customerID)
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

// Add applies a signed delta and returns the new balance.
func (s *Service) Add(customerID string, delta int64) (int64, error) {
	if _, _, err := s.store.EnsureBonusAccount(customerID); err != nil {
		return 0, err
	}
	balance, err := s.store.AdjustBonusBalance(customerID, delta)
	if err != nil {
		return 0, err
	}
	s.logger.Info("balance adjusted", "customer", customerID, "delta", money.Format(delta), "balance", money.Format(balance))
	return balance, nil
}

// Set overwrites the balance outright. Manager-only correction path.
func (s *Service) Set(customerID string, balance int64) error {
	if _, _, err := s.store.EnsureBonusAccount(customerID); err != nil {
		return err
	}
	if err := s.store.SetBonusBalance(customerID, balance); err != nil {
		return err
	}
	s.logger.Info("balance set", "customer", customerID, "balance", money.Format(balance))
	return nil
}

// Redeem consumes a single-use code for the customer: the code's value is
// credited and, when the code carries an external account, that account is
// linked. Concurrent redemptions of the same code credit exactly one
// customer.
func (s *Service) Redeem(customerID, code string) (int64, error) {
	bc, err := s.store.GetBonusCode(code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrCodeUnknown
		}
		return 0, err
	}
	if !bc.Active {
		return 0, ErrCodeUsed
	}

	if _, _, err := s.store.EnsureBonusAccount(customerID); err != nil {
		return 0, err
	}

	if err := s.store.RedeemBonusCode(bc.ID, customerID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return 0, ErrCodeUsed
		}
		return 0, err
	}

	balance, err := s.store.AdjustBonusBalance(customerID, bc.Value)
	if err != nil {
		return 0, fmt.Errorf("bonus: credit redeemed code %s: %w", bc.ID, err)
	}

	if bc.ExternalID != "" {
		if err := s.store.LinkExternalAccount(customerID, bc.ExternalID); err != nil {
			s.logger.Warn("external account link failed", "customer", customerID, "error", err)
		}
	}

	s.logger.Info("code redeemed", "customer", customerID, "code", bc.ID, "value", money.Format(bc.Value))
	return balance, nil
}

// Account returns the full account record, creating it if needed.
func (s *Service) Account(customerID string) (*store.BonusAccount, error) {
	acct, _, err := s.store.EnsureBonusAccount(customerID)
	return acct, err
}
