// Package connector defines the boundary to external chat platforms.
package connector

import "context"

// Button is one selectable option rendered under a message. Token comes
// back verbatim in InboundMessage.ButtonToken when pressed.
type Button struct {
	Label string
	Token string
}

// Connector is the interface for external messaging platforms.
type Connector interface {
	// Name returns the connector type (e.g., "telegram").
	Name() string
	// Start begins listening for inbound events. Blocks until context is cancelled.
	Start(ctx context.Context) error
	// Stop gracefully shuts down the connector.
	Stop() error
	// SendText delivers a plain text message.
	SendText(ctx context.Context, recipientID, text string) error
	// SendButtons delivers a message with one button per row.
	SendButtons(ctx context.Context, recipientID, text string, buttons []Button) error
}

// InboundMessage is an event received from an external platform: either a
// free-text turn or a button press, never both.
type InboundMessage struct {
	Channel     string // Connector name (e.g., "telegram")
	SenderID    string // Platform-specific sender identifier
	Text        string // Message text, empty for button presses
	ButtonToken string // Pressed button token, empty for text turns
}

// InboundHandler processes events received from external platforms.
type InboundHandler func(ctx context.Context, msg InboundMessage) error
