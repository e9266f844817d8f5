package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/lazzyont7t/Data/internal/api/mzplay"
	"github.com/lazzyont7t/Data/internal/api/wingo"
	"github.com/lazzyont7t/Data/internal/bus"
	"github.com/lazzyont7t/Data/internal/config"
	"github.com/lazzyont7t/Data/internal/database"
	"github.com/lazzyont7t/Data/internal/predictor"
	"github.com/lazzyont7t/Data/internal/reconcile"
	"github.com/lazzyont7t/Data/internal/scheduler"
	"github.com/lazzyont7t/Data/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultResultsLimit = 10

// Chats that asked for live result notifications.
var (
	notifyMu    sync.Mutex
	notifyChats = make(map[int64]struct{})
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(lvl).With().Timestamp().Logger()
	log.Logger = logger

	var store models.ResultStore
	if cfg.UseDatabase() {
		db, err := database.New(database.ConnectionParams{
			Host:     cfg.DBHost,
			Port:     cfg.DBPort,
			User:     cfg.DBUser,
			Password: cfg.DBPassword,
			DBName:   cfg.DBName,
			SSLMode:  cfg.DBSSLMode,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("database connection failed")
		}
		defer db.Close()
		store = db
	} else {
		store = database.NewMemoryStore()
		logger.Warn().Msg("DB_HOST not set, predictions are kept in memory only")
	}

	clients := buildClients(cfg)
	eventBus := bus.New()
	engine := predictor.New(clients, store, eventBus)
	sched := scheduler.New(engine, store, eventBus)
	sweeper := reconcile.New(clients, store, eventBus, reconcile.Options{
		Interval: time.Duration(cfg.SweepInterval) * time.Second,
		PageSize: cfg.SweepPageSize,
	})

	botToken := os.Getenv("TELEGRAM_BOT_TOKEN")
	if botToken == "" {
		logger.Fatal().Msg("TELEGRAM_BOT_TOKEN not set in environment")
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize Telegram bot")
	}
	logger.Info().Str("username", bot.Self.UserName).Msg("Authorized on Telegram")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go sweeper.Run(ctx)
	go forwardEvents(ctx, eventBus, func(chatID int64, text string) {
		if _, err := bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
			logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to push notification")
		}
	})

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := bot.GetUpdatesChan(updateConfig)

	for {
		select {
		case <-ctx.Done():
			sched.StopAll()
			eventBus.Close()
			return
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			handleCommand(ctx, bot, update.Message, sched, store, &logger)
		}
	}
}

// resubscribeDelay is the pause before re-registering an evicted event
// subscription.
var resubscribeDelay = time.Second

// forwardEvents pushes result and reconciled events to every chat that
// ran /notify. Slow sends can overflow the subscription buffer and get
// the subscriber evicted; in that case it re-registers after a short
// pause instead of dying for the process lifetime.
func forwardEvents(ctx context.Context, eventBus *bus.Bus, send func(chatID int64, text string)) {
	for {
		sub := eventBus.Subscribe()

		open := true
		for open {
			select {
			case <-ctx.Done():
				eventBus.Unsubscribe(sub)
				return
			case ev, ok := <-sub.Events():
				if !ok {
					open = false
					break
				}
				if ev.Kind != models.EventResult && ev.Kind != models.EventReconciled {
					continue
				}
				text := formatEvent(ev)
				for _, chatID := range notifyTargets() {
					send(chatID, text)
				}
			}
		}

		log.Warn().Msg("Event subscription dropped, re-registering")
		select {
		case <-ctx.Done():
			return
		case <-time.After(resubscribeDelay):
		}
	}
}

// notifyTargets snapshots the chats that asked for notifications.
func notifyTargets() []int64 {
	notifyMu.Lock()
	defer notifyMu.Unlock()
	chats := make([]int64, 0, len(notifyChats))
	for id := range notifyChats {
		chats = append(chats, id)
	}
	return chats
}

func handleCommand(ctx context.Context, bot *tgbotapi.BotAPI, message *tgbotapi.Message, sched *scheduler.Scheduler, store models.ResultStore, logger *zerolog.Logger) {
	userID := message.From.ID
	chatID := message.Chat.ID
	args := strings.Fields(message.CommandArguments())

	reply := func(text string) {
		if _, err := bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
			logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send message")
		}
	}

	switch message.Command() {
	case "start", "help":
		reply(helpText)
	case "predict":
		key, err := parseGameKey(args)
		if err != nil {
			reply(err.Error())
			return
		}
		p, err := sched.Start(key, &userID)
		if err != nil {
			reply(fmt.Sprintf("Failed to start %s %s: %v", key.Source, key.Cadence, err))
			return
		}
		reply(fmt.Sprintf("Started %s %s.\n%s", key.Source, key.Cadence, formatPrediction(p)))
	case "once":
		key, err := parseGameKey(args)
		if err != nil {
			reply(err.Error())
			return
		}
		p, err := sched.RunOnce(ctx, key, &userID)
		if err != nil {
			reply(fmt.Sprintf("Prediction failed for %s %s: %v", key.Source, key.Cadence, err))
			return
		}
		reply(formatPrediction(p))
	case "stop":
		key, err := parseGameKey(args)
		if err != nil {
			reply(err.Error())
			return
		}
		if err := sched.Stop(key); err != nil {
			reply(fmt.Sprintf("Failed to stop %s %s: %v", key.Source, key.Cadence, err))
			return
		}
		reply(fmt.Sprintf("Stopped %s %s.", key.Source, key.Cadence))
	case "stopall":
		sched.StopAll()
		reply("All schedules stopped.")
	case "active":
		keys := sched.ListActive()
		if len(keys) == 0 {
			reply("No active schedules.")
			return
		}
		var b strings.Builder
		b.WriteString("Active schedules:\n")
		for _, key := range keys {
			fmt.Fprintf(&b, "- %s %s\n", key.Source, key.Cadence)
		}
		reply(b.String())
	case "results":
		var source *models.Source
		if len(args) > 0 {
			s := models.Source(args[0])
			if !models.ValidSource(s) {
				reply(fmt.Sprintf("Unknown source %q. Use wingo or mzplay.", args[0]))
				return
			}
			source = &s
		}
		preds, err := store.ListPredictions(ctx, source, defaultResultsLimit, nil)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to list predictions")
			reply("Sorry, there was an error. Please try again later.")
			return
		}
		if len(preds) == 0 {
			reply("No predictions yet.")
			return
		}
		var b strings.Builder
		for _, p := range preds {
			fmt.Fprintf(&b, "%s %s issue %s: %d %s [%s]\n", p.Source, p.Cadence, p.Issue, p.Digit, p.Category, p.Verdict)
		}
		reply(b.String())
	case "status":
		statuses, err := store.ListRunStatus(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to list run status")
			reply("Sorry, there was an error. Please try again later.")
			return
		}
		if len(statuses) == 0 {
			reply("No sources have run yet.")
			return
		}
		var b strings.Builder
		for _, st := range statuses {
			fmt.Fprintf(&b, "%s: %s", st.Source, st.State)
			if st.Cadence != nil {
				fmt.Fprintf(&b, " (%s)", *st.Cadence)
			}
			if st.NextRun != nil {
				fmt.Fprintf(&b, ", next run %s", st.NextRun.Format("15:04:05"))
			}
			if st.ErrorMessage != nil {
				fmt.Fprintf(&b, ", last error: %s", *st.ErrorMessage)
			}
			b.WriteString("\n")
		}
		reply(b.String())
	case "stats":
		key, err := parseGameKey(args)
		if err != nil {
			reply(err.Error())
			return
		}
		counter, err := store.GetAccuracyCounter(ctx, userID, key.Source, key.Cadence)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to load accuracy counter")
			reply("Sorry, there was an error. Please try again later.")
			return
		}
		if counter == nil {
			reply(fmt.Sprintf("No resolved predictions for %s %s yet.", key.Source, key.Cadence))
			return
		}
		reply(fmt.Sprintf("%s %s: %d/%d correct (%d%%)", key.Source, key.Cadence, counter.Correct, counter.Total, counter.WinRate))
	case "notify":
		notifyMu.Lock()
		notifyChats[chatID] = struct{}{}
		notifyMu.Unlock()
		reply("This chat will now receive result and verdict notifications. /mute to stop.")
	case "mute":
		notifyMu.Lock()
		delete(notifyChats, chatID)
		notifyMu.Unlock()
		reply("Notifications disabled for this chat.")
	default:
		reply("Unknown command. Use /help to list available commands.")
	}
}

const helpText = `Commands:
/predict <source> <cadence> - start scheduled predictions (wingo|mzplay, 30s|1m)
/once <source> <cadence> - run a single prediction now
/stop <source> <cadence> - stop the schedule
/stopall - stop every schedule
/active - list armed schedules
/results [source] - recent predictions
/status - per-source run status
/stats <source> <cadence> - your win rate
/notify - receive results in this chat
/mute - stop notifications`

// parseGameKey reads "<source> <cadence>" command arguments.
func parseGameKey(args []string) (models.GameKey, error) {
	if len(args) < 2 {
		return models.GameKey{}, fmt.Errorf("usage: <source> <cadence>, e.g. wingo 30s")
	}
	key := models.GameKey{Source: models.Source(args[0]), Cadence: models.Cadence(args[1])}
	if err := key.Validate(); err != nil {
		return models.GameKey{}, fmt.Errorf("unknown game: %v (sources: wingo, mzplay; cadences: 30s, 1m)", err)
	}
	return key, nil
}

func formatPrediction(p *models.Prediction) string {
	return fmt.Sprintf("Prediction for %s %s issue %s:\nDigit: %d\nCategory: %s\nTrace: %s", p.Source, p.Cadence, p.Issue, p.Digit, p.Category, p.Trace)
}

func formatEvent(ev models.Event) string {
	p := ev.Prediction
	if p == nil {
		return fmt.Sprintf("%s: %s %s", ev.Kind, ev.Source, ev.Cadence)
	}
	if ev.Kind == models.EventReconciled && p.ActualDigit != nil && p.Correct != nil {
		verdict := "LOSS"
		if *p.Correct {
			verdict = "WIN"
		}
		return fmt.Sprintf("%s %s issue %s resolved: predicted %s, actual %d (%s) - %s", p.Source, p.Cadence, p.Issue, p.Category, *p.ActualDigit, models.CategoryOf(*p.ActualDigit), verdict)
	}
	return formatPrediction(p)
}

// buildClients wires one history client per (source, cadence) pair.
func buildClients(cfg *config.Config) map[models.GameKey]models.SourceClient {
	timeout := time.Duration(cfg.RequestTimeout) * time.Second

	clients := make(map[models.GameKey]models.SourceClient, 4)
	for _, cadence := range []models.Cadence{models.Cadence30s, models.Cadence1m} {
		clients[models.GameKey{Source: models.SourceWingo, Cadence: cadence}] = wingo.NewClient(wingo.ClientOptions{
			BaseURL:        cfg.WingoBaseURL,
			Cadence:        cadence,
			RequestTimeout: timeout,
			RequestsPerSec: cfg.RequestsPerSec,
		})
		clients[models.GameKey{Source: models.SourceMzplay, Cadence: cadence}] = mzplay.NewClient(mzplay.ClientOptions{
			URL:            cfg.MzplayURL,
			Cadence:        cadence,
			Random:         cfg.MzplayRandom,
			Signature:      cfg.MzplaySignature,
			PageSize:       cfg.MzplayPageSize,
			RequestTimeout: timeout,
			RequestsPerSec: cfg.RequestsPerSec,
		})
	}
	return clients
}
