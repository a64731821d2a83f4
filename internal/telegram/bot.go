// Package telegram is the operator surface: cycle notifications go out to
// the authorized chat and operator commands come back in.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/ObiAU/commentcurator/internal/aggregator"
	"github.com/ObiAU/commentcurator/internal/config"
	"github.com/ObiAU/commentcurator/internal/logging"
	"github.com/ObiAU/commentcurator/internal/publisher"
	"github.com/ObiAU/commentcurator/internal/scheduler"
)

const (
	pollTimeout = 30
	// httpTimeout must outlast a long poll.
	httpTimeout = 60 * time.Second
)

var ErrNoToken = errors.New("telegram bot token is not set")

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Scheduler is the scheduler control surface used by commands.
type Scheduler interface {
	Status() scheduler.Status
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
	RunNow(ctx context.Context) error
}

type SettingsStore interface {
	All() []config.Entry
	Set(ctx context.Context, key, raw string) (config.Value, error)
}

type AccountVerifier interface {
	Verify(ctx context.Context) (publisher.Identity, error)
}

type Reports interface {
	LastReport() (aggregator.Report, bool)
}

// Controls are the collaborators operator commands act on. Any of them may
// be nil; the matching commands then answer that the feature is unavailable.
type Controls struct {
	Scheduler Scheduler
	Settings  SettingsStore
	Account   AccountVerifier
	Reports   Reports
}

type Bot struct {
	api          *tgbotapi.BotAPI
	send         sender
	webhookURL   string
	authorizedID int64
	logger       *zap.Logger

	mu       sync.RWMutex
	controls Controls

	// wg tracks detached sends and manual runs. spawn only adds to it
	// while closed is false, so Close can wait without racing an Add.
	lifeMu sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewBot connects to the Bot API and returns a bot that talks to the
// authorized user only.
func NewBot(cfg config.TelegramConfig, logger *zap.Logger) (*Bot, error) {
	if cfg.Token == "" {
		return nil, ErrNoToken
	}
	api, err := tgbotapi.NewBotAPIWithClient(cfg.Token, tgbotapi.APIEndpoint, &http.Client{Timeout: httpTimeout})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	b := newBot(api, api, cfg, logger)
	b.logger.Info("telegram bot authorized", zap.String("username", api.Self.UserName))
	return b, nil
}

func newBot(api *tgbotapi.BotAPI, send sender, cfg config.TelegramConfig, logger *zap.Logger) *Bot {
	return &Bot{
		api:          api,
		send:         send,
		webhookURL:   cfg.WebhookURL,
		authorizedID: cfg.AuthorizedUserID,
		logger:       logging.OrNop(logger).Named("telegram"),
	}
}

// Bind attaches the command collaborators. It is separate from NewBot
// because the scheduler itself notifies through the bot.
func (b *Bot) Bind(c Controls) {
	b.mu.Lock()
	b.controls = c
	b.mu.Unlock()
}

func (b *Bot) ctl() Controls {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.controls
}

// Notify sends text to the authorized chat without waiting for delivery.
// Failures are logged.
func (b *Bot) Notify(_ context.Context, text string) {
	if b.authorizedID == 0 {
		b.logger.Warn("no authorized user configured, dropping notification")
		return
	}
	if !b.spawn(func() { b.sendMessage(b.authorizedID, text) }) {
		b.logger.Warn("bot is closed, dropping notification")
	}
}

// spawn runs fn on a tracked goroutine. It reports false once Close has
// begun, in which case fn does not run.
func (b *Bot) spawn(fn func()) bool {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()
	if b.closed {
		return false
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
	return true
}

// Close stops accepting detached work and blocks until detached sends and
// manual runs have finished. Call it after the scheduler has stopped.
func (b *Bot) Close() {
	b.lifeMu.Lock()
	b.closed = true
	b.lifeMu.Unlock()
	b.wg.Wait()
}

// Webhook reports whether updates arrive through the HTTP webhook.
func (b *Bot) Webhook() bool {
	return b.webhookURL != ""
}

// Start receives updates until ctx ends. With a webhook URL it registers
// the webhook and leaves delivery to WebhookHandler; otherwise it long
// polls.
func (b *Bot) Start(ctx context.Context) error {
	if b.Webhook() {
		return b.startWebhook(ctx)
	}
	return b.startPolling(ctx)
}

func (b *Bot) startWebhook(ctx context.Context) error {
	webhook, err := tgbotapi.NewWebhook(b.webhookURL)
	if err != nil {
		return fmt.Errorf("build webhook: %w", err)
	}
	if _, err := b.api.Request(webhook); err != nil {
		return fmt.Errorf("register webhook: %w", err)
	}

	info, err := b.api.GetWebhookInfo()
	if err != nil {
		return fmt.Errorf("webhook info: %w", err)
	}
	if info.LastErrorDate != 0 {
		b.logger.Warn("telegram webhook reported an error", zap.String("message", info.LastErrorMessage))
	}

	b.logger.Info("receiving updates by webhook", zap.String("url", b.webhookURL))
	<-ctx.Done()
	return nil
}

func (b *Bot) startPolling(ctx context.Context) error {
	if _, err := b.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		b.logger.Warn("could not clear webhook", zap.Error(err))
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout
	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("receiving updates by long polling")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, update)
		}
	}
}

// WebhookHandler serves Telegram webhook POSTs. Updates are handled
// against base, not the request context, so replies survive the response.
func (b *Bot) WebhookHandler(base context.Context) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		update, err := b.api.HandleUpdate(r)
		if err != nil {
			b.logger.Warn("bad webhook update", zap.Error(err))
			http.Error(w, "bad update", http.StatusBadRequest)
			return
		}

		if !b.spawn(func() { b.handleUpdate(base, *update) }) {
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	if _, err := b.send.Send(msg); err != nil {
		b.logger.Error("failed to send telegram message", zap.Int64("chat", chatID), zap.Error(err))
	}
}
