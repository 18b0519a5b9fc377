// Package notify fans out pending-dialog announcements to the manager side:
// the Telegram manager group and, when configured, a Slack channel.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/partsline/supportbot/internal/connector"
)

const claimPrefix = "claim:"

// ClaimToken builds the button token managers press to take a customer.
func ClaimToken(customerID string) string {
	return claimPrefix + customerID
}

// ParseClaimToken extracts the customer id from a claim button token.
// Returns false for tokens that are not claim tokens.
func ParseClaimToken(token string) (string, bool) {
	id, ok := strings.CutPrefix(token, claimPrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// GroupSender is the narrow slice of the connector the broadcaster needs.
type GroupSender interface {
	SendButtons(ctx context.Context, recipientID, text string, buttons []connector.Button) error
}

// Mirror duplicates announcements to a secondary channel. Failures there are
// logged and never block the primary notification.
type Mirror interface {
	Post(ctx context.Context, text string) error
}

// Broadcaster announces waiting customers to the manager group.
type Broadcaster struct {
	sender  GroupSender
	groupID string
	mirror  Mirror
	logger  *slog.Logger
}

// NewBroadcaster creates a broadcaster posting to groupID. mirror may be nil.
func NewBroadcaster(sender GroupSender, groupID string, mirror Mirror, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{sender: sender, groupID: groupID, mirror: mirror, logger: logger}
}

// AnnouncePending posts a single new-customer announcement with a claim
// button. preview is the first customer message, shown for triage.
func (b *Broadcaster) AnnouncePending(ctx context.Context, customerID, preview string) error {
	text := fmt.Sprintf("Customer %s is waiting for a manager.", customerID)
	if preview != "" {
		text += "\n\n" + truncate(preview, 300)
	}

	err := b.sender.SendButtons(ctx, b.groupID, text, []connector.Button{
		{Label: "Take customer", Token: ClaimToken(customerID)},
	})
	if err != nil {
		return fmt.Errorf("notify: announce pending: %w", err)
	}

	b.postMirror(ctx, text)
	return nil
}

// PendingDigest lists all waiting customers in one message, a claim button
// per customer. Used by the manager menu and the reminder sweep.
func (b *Broadcaster) PendingDigest(ctx context.Context, recipientID string, customerIDs []string) error {
	if len(customerIDs) == 0 {
		return b.sender.SendButtons(ctx, recipientID, "No customers are waiting.", nil)
	}

	var sb strings.Builder
	sb.WriteString("Waiting customers:\n")
	buttons := make([]connector.Button, 0, len(customerIDs))
	for i, id := range customerIDs {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, id)
		buttons = append(buttons, connector.Button{
			Label: "Take " + id,
			Token: ClaimToken(id),
		})
	}

	if err := b.sender.SendButtons(ctx, recipientID, sb.String(), buttons); err != nil {
		return fmt.Errorf("notify: pending digest: %w", err)
	}
	return nil
}

func (b *Broadcaster) postMirror(ctx context.Context, text string) {
	if b.mirror == nil {
		return
	}
	if err := b.mirror.Post(ctx, text); err != nil {
		b.logger.Warn("mirror post failed", "error", err)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
