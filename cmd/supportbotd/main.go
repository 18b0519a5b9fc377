package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/partsline/supportbot/internal/bonus"
	"github.com/partsline/supportbot/internal/bot"
	"github.com/partsline/supportbot/internal/config"
	"github.com/partsline/supportbot/internal/connector"
	"github.com/partsline/supportbot/internal/connector/telegram"
	"github.com/partsline/supportbot/internal/dialog"
	"github.com/partsline/supportbot/internal/money"
	"github.com/partsline/supportbot/internal/notify"
	"github.com/partsline/supportbot/internal/order"
	"github.com/partsline/supportbot/internal/sched"
	"github.com/partsline/supportbot/internal/store"
)

func main() {
	configPath := flag.String("config", "", "Path to config JSON file")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	// Set up logging
	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))

	// Load config (file or env)
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("supportbotd starting", "data_dir", cfg.DataDir)

	// 1. Open the store
	dbPath := cfg.DataDir + "/supportbot.db"
	os.MkdirAll(cfg.DataDir, 0o755)
	st, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		logger.Error("failed to open store", "path", dbPath, "error", err)
		os.Exit(1)
	}

	starterUnits := int64(0)
	if cfg.Bonus.StarterCredit != "" {
		starterUnits, err = money.Parse(cfg.Bonus.StarterCredit)
		if err != nil {
			logger.Error("bad starter credit", "value", cfg.Bonus.StarterCredit, "error", err)
			os.Exit(1)
		}
	}

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Wire the engine. The connector is created after the bot because
	// its handler needs the bot, so the outbound side goes through a
	// late-bound adapter.
	out := &lateMessenger{}

	var mirror notify.Mirror
	if cfg.Slack != nil {
		mirror = notify.NewSlackMirror(cfg.Slack.Token, cfg.Slack.Channel)
		logger.Info("slack mirror enabled", "channel", cfg.Slack.Channel)
	}
	broadcaster := notify.NewBroadcaster(out, cfg.Telegram.ManagerGroup, mirror, logger.With("component", "notify"))

	engine := dialog.NewEngine(st, out, broadcaster, logger.With("component", "dialog"))
	orders := order.NewController(st, engine, logger.With("component", "order"))
	bonusSvc := bonus.NewService(st, starterUnits, logger.With("component", "bonus"))

	b := bot.New(engine, orders, bonusSvc, broadcaster, out, cfg.Telegram.ManagerIDs, logger.With("component", "bot"))

	// 3. Start the Telegram connector
	tgConn, err := telegram.New(
		telegram.Config{Token: cfg.Telegram.Token},
		b.Handle,
		logger.With("connector", "telegram"),
	)
	if err != nil {
		logger.Error("failed to init telegram connector", "error", err)
		os.Exit(1)
	}
	out.bind(tgConn)

	go safeGo(logger, "telegram", func() { tgConn.Start(ctx) })

	// 4. Start the pending-queue sweeper
	sweeper, err := sched.New(
		engine,
		broadcaster,
		cfg.Telegram.ManagerGroup,
		cfg.Sweep.Schedule,
		time.Duration(cfg.Sweep.StaleMinutes)*time.Minute,
		logger.With("component", "sched"),
	)
	if err != nil {
		logger.Error("failed to init sweeper", "error", err)
		os.Exit(1)
	}
	go safeGo(logger, "sweeper", func() { sweeper.Start(ctx) })

	// 5. Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()
	tgConn.Stop()
	logger.Info("supportbotd stopped")
}

// safeGo runs fn with panic recovery.
func safeGo(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn()
}

// lateMessenger forwards sends to a connector bound after construction.
type lateMessenger struct {
	conn *telegram.Connector
}

func (m *lateMessenger) bind(c *telegram.Connector) { m.conn = c }

func (m *lateMessenger) SendText(ctx context.Context, recipientID, text string) error {
	if m.conn == nil {
		return fmt.Errorf("main: connector not ready")
	}
	return m.conn.SendText(ctx, recipientID, text)
}

func (m *lateMessenger) SendButtons(ctx context.Context, recipientID, text string, buttons []connector.Button) error {
	if m.conn == nil {
		return fmt.Errorf("main: connector not ready")
	}
	return m.conn.SendButtons(ctx, recipientID, text, buttons)
}
