package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// SlackMirror posts announcements into a Slack channel so managers who live
// in Slack see the queue without watching Telegram.
type SlackMirror struct {
	client    *slack.Client
	channelID string
}

// NewSlackMirror creates a mirror posting to channelID using botToken.
func NewSlackMirror(botToken, channelID string) *SlackMirror {
	return &SlackMirror{
		client:    slack.New(botToken),
		channelID: channelID,
	}
}

func (m *SlackMirror) Post(ctx context.Context, text string) error {
	_, _, err := m.client.PostMessageContext(ctx, m.channelID,
		slack.MsgOptionText(text, false),
	)
	if err != nil {
		return fmt.Errorf("notify: slack post: %w", err)
	}
	return nil
}
