// Package sched runs the periodic pending-queue sweep: customers who have
// waited too long without a manager are re-announced to the group.
package sched

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/partsline/supportbot/internal/store"
)

// Queue lists the customers still waiting for a manager.
type Queue interface {
	PendingCustomers() ([]*store.CustomerState, error)
}

// Digester posts a waiting-customers digest to one recipient.
type Digester interface {
	PendingDigest(ctx context.Context, recipientID string, customerIDs []string) error
}

// Sweeper re-announces stale pending customers on a cron schedule.
type Sweeper struct {
	cron       *cron.Cron
	queue      Queue
	digest     Digester
	groupID    string
	staleAfter time.Duration
	logger     *slog.Logger
}

// New creates a sweeper posting to groupID. schedule is a standard cron
// expression (5 fields) or a predefined one like @every 10m. Customers whose
// last activity is younger than staleAfter are left out of the reminder.
func New(queue Queue, digest Digester, groupID, schedule string, staleAfter time.Duration, logger *slog.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		cron:       cron.New(),
		queue:      queue,
		digest:     digest,
		groupID:    groupID,
		staleAfter: staleAfter,
		logger:     logger,
	}

	_, err := s.cron.AddFunc(schedule, func() {
		if err := s.Sweep(context.Background()); err != nil {
			s.logger.Error("pending sweep failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("sched: invalid schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins the cron loop. Blocks until context is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info("pending sweeper started", "stale_after", s.staleAfter)

	<-ctx.Done()
	s.cron.Stop()
	s.logger.Info("pending sweeper stopped")
	return ctx.Err()
}

// Sweep runs one pass: stale waiting customers are posted as a digest to
// the manager group. A quiet queue posts nothing.
func (s *Sweeper) Sweep(ctx context.Context) error {
	pending, err := s.queue.PendingCustomers()
	if err != nil {
		return fmt.Errorf("sched: list pending: %w", err)
	}

	cutoff := time.Now().Add(-s.staleAfter)
	var stale []string
	for _, cs := range pending {
		if cs.LastActivity.Before(cutoff) {
			stale = append(stale, cs.CustomerID)
		}
	}
	if len(stale) == 0 {
		return nil
	}

	s.logger.Info("re-announcing stale customers", "count", len(stale))
	return s.digest.PendingDigest(ctx, s.groupID, stale)
}
