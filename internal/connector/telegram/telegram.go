package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/partsline/supportbot/internal/connector"
)

// Config holds Telegram connector configuration.
type Config struct {
	Token string // Bot token from @BotFather
}

// Connector implements the connector.Connector interface for Telegram.
type Connector struct {
	bot     *tgbotapi.BotAPI
	config  Config
	handler connector.InboundHandler
	logger  *slog.Logger
	cancel  context.CancelFunc
}

// New creates a new Telegram connector.
func New(cfg Config, handler connector.InboundHandler, logger *slog.Logger) (*Connector, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("telegram bot authorized", "username", bot.Self.UserName)

	return &Connector{
		bot:     bot,
		config:  cfg,
		handler: handler,
		logger:  logger,
	}, nil
}

func (c *Connector) Name() string { return "telegram" }

// Start begins long-polling for updates. Blocks until context is cancelled.
func (c *Connector) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := c.bot.GetUpdatesChan(u)

	c.logger.Info("telegram connector started", "bot", c.bot.Self.UserName)

	for {
		select {
		case update := <-updates:
			c.handleUpdate(ctx, update)

		case <-ctx.Done():
			c.bot.StopReceivingUpdates()
			c.logger.Info("telegram connector stopped")
			return ctx.Err()
		}
	}
}

// Stop gracefully shuts down the connector.
func (c *Connector) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// SendText delivers a plain text message to a Telegram chat.
func (c *Connector) SendText(_ context.Context, recipientID, text string) error {
	chatID, err := parseChatID(recipientID)
	if err != nil {
		return err
	}

	if strings.TrimSpace(text) == "" {
		c.logger.Warn("skipping empty message", "chat_id", recipientID)
		return nil
	}

	_, err = c.bot.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	return nil
}

// SendButtons delivers a message with an inline keyboard, one button per row.
func (c *Connector) SendButtons(_ context.Context, recipientID, text string, buttons []connector.Button) error {
	chatID, err := parseChatID(recipientID)
	if err != nil {
		return err
	}

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, b := range buttons {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Token),
		))
	}

	msg := tgbotapi.NewMessage(chatID, text)
	if len(rows) > 0 {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	}

	_, err = c.bot.Send(msg)
	if err != nil {
		return fmt.Errorf("telegram: send buttons: %w", err)
	}
	return nil
}

func (c *Connector) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		cb := update.CallbackQuery

		// Acknowledge the press so the client stops its spinner.
		c.bot.Request(tgbotapi.NewCallback(cb.ID, ""))

		inbound := connector.InboundMessage{
			Channel:     "telegram",
			SenderID:    strconv.FormatInt(cb.From.ID, 10),
			ButtonToken: cb.Data,
		}
		if err := c.handler(ctx, inbound); err != nil {
			c.logger.Error("button handler error", "sender", inbound.SenderID, "error", err)
		}

	case update.Message != nil:
		msg := update.Message

		text := msg.Text
		if msg.IsCommand() {
			text = "/" + msg.Command()
			if msg.CommandArguments() != "" {
				text += " " + msg.CommandArguments()
			}
		}
		if text == "" {
			return
		}

		inbound := connector.InboundMessage{
			Channel:  "telegram",
			SenderID: strconv.FormatInt(msg.From.ID, 10),
			Text:     text,
		}
		if err := c.handler(ctx, inbound); err != nil {
			c.logger.Error("inbound handler error", "sender", inbound.SenderID, "error", err)
		}
	}
}

func parseChatID(recipientID string) (int64, error) {
	chatID, err := strconv.ParseInt(recipientID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram: invalid chat_id %q: %w", recipientID, err)
	}
	return chatID, nil
}
