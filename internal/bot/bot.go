// Package bot translates chat traffic into engine operations: commands and
// button presses from both customers and managers, plus free-text routing.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/partsline/supportbot/internal/bonus"
	"github.com/partsline/supportbot/internal/connector"
	"github.com/partsline/supportbot/internal/dialog"
	"github.com/partsline/supportbot/internal/money"
	"github.com/partsline/supportbot/internal/notify"
	"github.com/partsline/supportbot/internal/order"
	"github.com/partsline/supportbot/internal/store"
)

// Messenger is the outbound slice of the connector the bot needs.
type Messenger interface {
	SendText(ctx context.Context, recipientID, text string) error
	SendButtons(ctx context.Context, recipientID, text string, buttons []connector.Button) error
}

// Bot routes inbound chat events to the dialog engine, order controller and
// bonus service.
type Bot struct {
	engine   *dialog.Engine
	orders   *order.Controller
	bonus    *bonus.Service
	notify   *notify.Broadcaster
	out      Messenger
	managers map[string]bool
	logger   *slog.Logger
}

// New wires the bot. managerIDs lists the chat ids allowed to use the
// manager surface.
func New(engine *dialog.Engine, orders *order.Controller, bonusSvc *bonus.Service, broadcaster *notify.Broadcaster, out Messenger, managerIDs []string, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	managers := make(map[string]bool, len(managerIDs))
	for _, id := range managerIDs {
		managers[id] = true
	}
	return &Bot{
		engine:   engine,
		orders:   orders,
		bonus:    bonusSvc,
		notify:   broadcaster,
		out:      out,
		managers: managers,
		logger:   logger,
	}
}

// Handle processes one inbound event. Domain failures are reported back to
// the sender rather than returned; only infrastructure errors propagate.
func (b *Bot) Handle(ctx context.Context, msg connector.InboundMessage) error {
	switch {
	case msg.ButtonToken != "":
		return b.handleButton(ctx, msg.SenderID, msg.ButtonToken)
	case strings.HasPrefix(msg.Text, "/"):
		return b.handleCommand(ctx, msg.SenderID, msg.Text)
	default:
		return b.handleText(ctx, msg.SenderID, msg.Text)
	}
}

func (b *Bot) isManager(senderID string) bool { return b.managers[senderID] }

// --- commands ---

func (b *Bot) handleCommand(ctx context.Context, senderID, text string) error {
	cmd, args, _ := strings.Cut(text, " ")
	args = strings.TrimSpace(args)

	switch cmd {
	case "/start":
		return b.cmdStart(ctx, senderID)
	case "/redeem":
		return b.cmdRedeem(ctx, senderID, args)
	case "/balance":
		return b.cmdBalance(ctx, senderID)
	case "/bonus":
		if !b.isManager(senderID) {
			return b.reply(ctx, senderID, "Unknown command.")
		}
		return b.cmdBonus(ctx, senderID, args)
	case "/client":
		if !b.isManager(senderID) {
			return b.reply(ctx, senderID, "Unknown command.")
		}
		return b.cmdClient(ctx, senderID, args)
	default:
		return b.reply(ctx, senderID, "Unknown command. Send /start for the menu.")
	}
}

func (b *Bot) cmdStart(ctx context.Context, senderID string) error {
	if b.isManager(senderID) {
		return b.out.SendButtons(ctx, senderID, "Manager menu:", managerMenu())
	}

	if _, err := b.engine.EnsureCustomer(senderID); err != nil {
		return err
	}
	// A restart always lands on a clean slate.
	if err := b.engine.Close(ctx, senderID, store.SenderCustomer); err != nil {
		return err
	}
	balance, err := b.bonus.Welcome(senderID)
	if err != nil {
		b.logger.Error("welcome bonus failed", "customer", senderID, "error", err)
	}

	greeting := "Welcome! How can we help you today?"
	if err == nil && balance > 0 {
		greeting += fmt.Sprintf("\nYour bonus balance: %s", money.Format(balance))
	}
	return b.out.SendButtons(ctx, senderID, greeting, customerMenu())
}

func (b *Bot) cmdRedeem(ctx context.Context, senderID, code string) error {
	if code == "" {
		return b.reply(ctx, senderID, "Usage: /redeem <code>")
	}
	balance, err := b.bonus.Redeem(senderID, code)
	switch {
	case errors.Is(err, bonus.ErrCodeUnknown):
		return b.reply(ctx, senderID, "That code does not exist.")
	case errors.Is(err, bonus.ErrCodeUsed):
		return b.reply(ctx, senderID, "That code has already been used.")
	case err != nil:
		return err
	}
	return b.reply(ctx, senderID, fmt.Sprintf("Code accepted. Your balance: %s", money.Format(balance)))
}

func (b *Bot) cmdBalance(ctx context.Context, senderID string) error {
	balance, err := b.bonus.Balance(senderID)
	if err != nil {
		return err
	}
	return b.reply(ctx, senderID, fmt.Sprintf("Your bonus balance: %s", money.Format(balance)))
}

// cmdBonus handles manager balance corrections:
//
//	/bonus add <customer> <amount>
//	/bonus set <customer> <amount>
func (b *Bot) cmdBonus(ctx context.Context, senderID, args string) error {
	fields := strings.Fields(args)
	if len(fields) != 3 {
		return b.reply(ctx, senderID, "Usage: /bonus add|set <customer> <amount>")
	}
	op, customerID, amountStr := fields[0], fields[1], fields[2]

	units, err := money.Parse(amountStr)
	if err != nil {
		return b.reply(ctx, senderID, fmt.Sprintf("Bad amount %q.", amountStr))
	}

	switch op {
	case "add":
		balance, err := b.bonus.Add(customerID, units)
		if err != nil {
			return err
		}
		return b.reply(ctx, senderID, fmt.Sprintf("Balance of %s is now %s", customerID, money.Format(balance)))
	case "set":
		if err := b.bonus.Set(customerID, units); err != nil {
			return err
		}
		return b.reply(ctx, senderID, fmt.Sprintf("Balance of %s set to %s", customerID, money.Format(units)))
	default:
		return b.reply(ctx, senderID, "Usage: /bonus add|set <customer> <amount>")
	}
}

func (b *Bot) cmdClient(ctx context.Context, senderID, customerID string) error {
	if customerID == "" {
		if active, err := b.engine.ActiveCustomer(senderID); err == nil && active != "" {
			customerID = active
		} else {
			return b.reply(ctx, senderID, "Usage: /client <customer>")
		}
	}

	acct, err := b.bonus.Account(customerID)
	if err != nil {
		return err
	}
	orders, err := b.orders.ForCustomer(customerID)
	if err != nil {
		return err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Customer %s\nBonus balance: %s\n", customerID, money.Format(acct.Balance))
	if acct.ExternalID != "" {
		fmt.Fprintf(&sb, "Linked account: %s\n", acct.ExternalID)
	}
	fmt.Fprintf(&sb, "Orders: %d\n", len(orders))
	for _, o := range orders {
		sb.WriteString(formatOrder(o) + "\n")
	}
	return b.reply(ctx, senderID, sb.String())
}

// --- buttons ---

func (b *Bot) handleButton(ctx context.Context, senderID, token string) error {
	if customerID, ok := notify.ParseClaimToken(token); ok {
		return b.claim(ctx, senderID, customerID)
	}
	if rest, ok := strings.CutPrefix(token, "setstatus:"); ok {
		orderID, status, found := strings.Cut(rest, ":")
		if !found {
			return b.reply(ctx, senderID, "Malformed button.")
		}
		return b.setStatus(ctx, senderID, orderID, store.OrderStatus(status))
	}

	switch token {
	case "menu:open":
		if err := b.engine.OpenRequest(ctx, senderID); err != nil {
			return err
		}
		return b.reply(ctx, senderID, "Describe your issue and a manager will join shortly.")
	case "menu:close":
		if err := b.engine.Close(ctx, senderID, store.SenderCustomer); err != nil {
			return err
		}
		return b.reply(ctx, senderID, "Conversation closed. Send /start anytime.")
	case "menu:orders":
		return b.customerOrders(ctx, senderID)
	case "menu:bonus":
		return b.cmdBalance(ctx, senderID)

	case "mgr:pending":
		return b.pendingDigest(ctx, senderID)
	case "mgr:neworder":
		return b.beginOrder(ctx, senderID)
	case "mgr:close":
		return b.release(ctx, senderID)
	case "mgr:history":
		return b.history(ctx, senderID)
	case "mgr:orders":
		return b.openOrders(ctx, senderID)

	default:
		b.logger.Warn("unknown button token", "sender", senderID, "token", token)
		return nil
	}
}

func (b *Bot) claim(ctx context.Context, managerID, customerID string) error {
	if !b.isManager(managerID) {
		return nil
	}

	history, err := b.engine.Claim(ctx, managerID, customerID)
	switch {
	case errors.Is(err, dialog.ErrManagerBusy):
		return b.reply(ctx, managerID, "Close your current conversation before taking another customer.")
	case errors.Is(err, dialog.ErrAlreadyClaimed):
		return b.reply(ctx, managerID, "Another manager already took this customer.")
	case errors.Is(err, dialog.ErrCustomerGone):
		return b.reply(ctx, managerID, "This customer has left the queue.")
	case err != nil:
		return err
	}

	text := fmt.Sprintf("You are now talking to %s.", customerID)
	if len(history) > 0 {
		text += "\n\n" + formatHistory(history)
	}
	return b.reply(ctx, managerID, text)
}

func (b *Bot) setStatus(ctx context.Context, managerID, orderID string, status store.OrderStatus) error {
	if !b.isManager(managerID) {
		return nil
	}

	o, err := b.orders.ChangeStatus(orderID, status)
	switch {
	case errors.Is(err, order.ErrOrderNotFound):
		return b.reply(ctx, managerID, "Order not found.")
	case errors.Is(err, order.ErrOrderCompleted):
		return b.reply(ctx, managerID, "This order is already completed.")
	case errors.Is(err, order.ErrInvalidTransition):
		return b.reply(ctx, managerID, "That status is not the next step for this order.")
	case err != nil:
		return err
	}

	// The customer follows their order without asking.
	b.out.SendText(ctx, o.CustomerID, fmt.Sprintf("Order %s: %s", o.ID, order.StatusLabel(o.Status)))
	return b.reply(ctx, managerID, fmt.Sprintf("Order %s moved to %s.", o.ID, order.StatusLabel(o.Status)))
}

func (b *Bot) pendingDigest(ctx context.Context, managerID string) error {
	if !b.isManager(managerID) {
		return nil
	}
	pending, err := b.engine.PendingCustomers()
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(pending))
	for _, cs := range pending {
		ids = append(ids, cs.CustomerID)
	}
	return b.notify.PendingDigest(ctx, managerID, ids)
}

func (b *Bot) beginOrder(ctx context.Context, managerID string) error {
	if !b.isManager(managerID) {
		return nil
	}
	if err := b.orders.BeginCapture(managerID); err != nil {
		if errors.Is(err, order.ErrDialogChanged) {
			return b.reply(ctx, managerID, "Take a customer before opening an order.")
		}
		return err
	}
	return b.reply(ctx, managerID, "New order. Send the price:")
}

func (b *Bot) release(ctx context.Context, managerID string) error {
	if !b.isManager(managerID) {
		return nil
	}
	b.orders.Abort(managerID)
	err := b.engine.Release(ctx, managerID)
	if errors.Is(err, dialog.ErrNoActiveDialog) {
		return b.reply(ctx, managerID, "You have no active conversation.")
	}
	if err != nil {
		return err
	}
	return b.reply(ctx, managerID, "Conversation closed.")
}

func (b *Bot) history(ctx context.Context, managerID string) error {
	if !b.isManager(managerID) {
		return nil
	}
	customerID, err := b.engine.ActiveCustomer(managerID)
	if err != nil {
		return err
	}
	if customerID == "" {
		return b.reply(ctx, managerID, "You have no active conversation.")
	}
	history, err := b.engine.History(customerID)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return b.reply(ctx, managerID, "No messages yet.")
	}
	return b.reply(ctx, managerID, formatHistory(history))
}

func (b *Bot) openOrders(ctx context.Context, managerID string) error {
	if !b.isManager(managerID) {
		return nil
	}
	open, err := b.orders.Open()
	if err != nil {
		return err
	}
	if len(open) == 0 {
		return b.reply(ctx, managerID, "No orders in progress.")
	}

	var sb strings.Builder
	sb.WriteString("Orders in progress:\n")
	var buttons []connector.Button
	for _, o := range open {
		sb.WriteString(formatOrder(o) + "\n")
		for _, next := range order.NextStatuses(o.Status) {
			buttons = append(buttons, connector.Button{
				Label: fmt.Sprintf("%s: %s", o.ID, order.StatusLabel(next)),
				Token: fmt.Sprintf("setstatus:%s:%s", o.ID, next),
			})
		}
	}
	return b.out.SendButtons(ctx, managerID, sb.String(), buttons)
}

func (b *Bot) customerOrders(ctx context.Context, customerID string) error {
	orders, err := b.orders.ForCustomer(customerID)
	if err != nil {
		return err
	}
	if len(orders) == 0 {
		return b.reply(ctx, customerID, "You have no orders yet.")
	}
	var sb strings.Builder
	sb.WriteString("Your orders:\n")
	for _, o := range orders {
		sb.WriteString(formatOrder(o) + "\n")
	}
	return b.reply(ctx, customerID, sb.String())
}

// --- free text ---

func (b *Bot) handleText(ctx context.Context, senderID, text string) error {
	if b.isManager(senderID) {
		return b.managerText(ctx, senderID, text)
	}
	return b.customerText(ctx, senderID, text)
}

func (b *Bot) managerText(ctx context.Context, managerID, text string) error {
	if b.orders.CaptureActive(managerID) {
		return b.captureStep(ctx, managerID, text)
	}

	err := b.engine.ManagerMessage(ctx, managerID, text)
	switch {
	case errors.Is(err, dialog.ErrNoActiveDialog):
		return b.reply(ctx, managerID, "You have no active conversation. Check the waiting list.")
	case errors.Is(err, dialog.ErrCustomerGone):
		return b.reply(ctx, managerID, "The customer closed the conversation.")
	default:
		var derr *dialog.DeliveryError
		if errors.As(err, &derr) {
			return b.reply(ctx, managerID, "The message was saved but could not be delivered.")
		}
		return err
	}
}

func (b *Bot) captureStep(ctx context.Context, managerID, text string) error {
	step, o, err := b.orders.Submit(ctx, managerID, text)
	switch {
	case errors.Is(err, order.ErrInvalidInput):
		if step == order.StepPrice {
			return b.reply(ctx, managerID, "That is not a valid price. Send a positive amount like 1500.50:")
		}
		return b.reply(ctx, managerID, "Description cannot be empty. Send it again:")
	case errors.Is(err, order.ErrDialogChanged):
		return b.reply(ctx, managerID, "Your conversation changed, the order was discarded.")
	case err != nil:
		return err
	}

	if step == order.StepDescription {
		return b.reply(ctx, managerID, "Now send the order description:")
	}

	// Order created; both sides learn the number.
	b.out.SendText(ctx, o.CustomerID, fmt.Sprintf("Your order %s has been created: %s, %s. Current status: %s.",
		o.ID, o.Description, money.Format(o.Price), order.StatusLabel(o.Status)))
	return b.reply(ctx, managerID, fmt.Sprintf("Order %s created.", o.ID))
}

func (b *Bot) customerText(ctx context.Context, customerID, text string) error {
	err := b.engine.CustomerMessage(ctx, customerID, text)
	switch {
	case errors.Is(err, dialog.ErrNoActiveDialog):
		return b.out.SendButtons(ctx, customerID, "You have no open conversation.", customerMenu())
	case err == nil:
		return nil
	default:
		var derr *dialog.DeliveryError
		if errors.As(err, &derr) {
			// Recorded; the manager will see it in the history.
			return nil
		}
		return err
	}
}

// --- helpers ---

func (b *Bot) reply(ctx context.Context, recipientID, text string) error {
	return b.out.SendText(ctx, recipientID, text)
}

func customerMenu() []connector.Button {
	return []connector.Button{
		{Label: "Talk to a manager", Token: "menu:open"},
		{Label: "My orders", Token: "menu:orders"},
		{Label: "My bonus balance", Token: "menu:bonus"},
		{Label: "Close conversation", Token: "menu:close"},
	}
}

func managerMenu() []connector.Button {
	return []connector.Button{
		{Label: "Waiting customers", Token: "mgr:pending"},
		{Label: "New order", Token: "mgr:neworder"},
		{Label: "Conversation history", Token: "mgr:history"},
		{Label: "Orders in progress", Token: "mgr:orders"},
		{Label: "Close conversation", Token: "mgr:close"},
	}
}

func formatOrder(o *store.Order) string {
	return fmt.Sprintf("#%s: %s, %s (%s)", o.ID, o.Description, money.Format(o.Price), order.StatusLabel(o.Status))
}

func formatHistory(msgs []store.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		who := "Customer"
		if m.Sender == store.SenderManager {
			who = "Manager"
		}
		fmt.Fprintf(&sb, "[%s] %s: %s\n", m.Timestamp.Format("15:04"), who, m.Text)
	}
	return strings.TrimRight(sb.String(), "\n")
}
