package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/ObiAU/commentcurator/internal/config"
)

const timeLayout = "2006-01-02 15:04:05"

const helpText = `<b>Comment Curator</b> 🤖

I collect comments from the configured subreddits, screen them for quality and publish the best one.

<b>Commands</b>
/status - Scheduler state and the last run
/start_scraper - Enable scheduled runs
/stop_scraper - Disable scheduled runs
/scrape_now - Run one cycle immediately
/settings - Show runtime settings
/set KEY VALUE - Change a setting
/test_twitter - Check the publishing account
/help - Show this message`

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}

	chatID := msg.Chat.ID
	if b.authorizedID == 0 || msg.From.ID != b.authorizedID {
		b.logger.Warn("rejected message from unauthorized user", zap.Int64("user", msg.From.ID))
		b.sendMessage(chatID, "⛔ You are not authorized to use this bot.")
		return
	}

	command, args := parseCommand(msg.Text)
	switch command {
	case "/start", "/help":
		b.sendMessage(chatID, helpText)
	case "/status":
		b.handleStatus(chatID)
	case "/start_scraper":
		b.handleToggle(ctx, chatID, true)
	case "/stop_scraper":
		b.handleToggle(ctx, chatID, false)
	case "/scrape_now":
		b.handleScrapeNow(ctx, chatID)
	case "/settings":
		b.handleSettings(chatID)
	case "/set":
		b.handleSet(ctx, chatID, args)
	case "/test_twitter":
		b.handleTestTwitter(ctx, chatID)
	default:
		b.sendMessage(chatID, "Unknown command. Use /help for available commands.")
	}
}

// parseCommand splits "/cmd@bot rest of text" into "/cmd" and "rest of text".
func parseCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	command, args, _ := strings.Cut(text, " ")
	if at := strings.IndexByte(command, '@'); at >= 0 {
		command = command[:at]
	}
	return strings.ToLower(command), strings.TrimSpace(args)
}

func (b *Bot) unavailable(chatID int64, what string) {
	b.sendMessage(chatID, fmt.Sprintf("⚠️ %s is not available.", what))
}

func (b *Bot) handleStatus(chatID int64) {
	c := b.ctl()
	if c.Scheduler == nil {
		b.unavailable(chatID, "The scheduler")
		return
	}

	st := c.Scheduler.Status()
	var sb strings.Builder
	sb.WriteString("📊 <b>Status</b>\n\n")
	fmt.Fprintf(&sb, "<b>Scheduler:</b> %s\n", st.State)
	fmt.Fprintf(&sb, "<b>Enabled:</b> %t\n", st.Enabled)
	fmt.Fprintf(&sb, "<b>Interval:</b> %s\n", st.Interval)
	fmt.Fprintf(&sb, "<b>Last run:</b> %s\n", formatTime(st.LastRun))
	fmt.Fprintf(&sb, "<b>Next run:</b> %s", formatTime(st.NextRun))

	if c.Reports != nil {
		if r, ok := c.Reports.LastReport(); ok {
			sb.WriteString("\n\n<b>Last cycle</b>\n")
			fmt.Fprintf(&sb, "Outcome: %s\n", r.Outcome)
			fmt.Fprintf(&sb, "Sources: %d/%d\n", r.SuccessfulSources, r.Sources)
			fmt.Fprintf(&sb, "Comments: %d from %d posts\n", r.Entries, r.Parents)
			fmt.Fprintf(&sb, "Evaluation calls: %d\n", r.EvalCalls)
			fmt.Fprintf(&sb, "Took: %s", r.Elapsed.Round(time.Second))
		}
	}
	b.sendMessage(chatID, sb.String())
}

func (b *Bot) handleToggle(ctx context.Context, chatID int64, on bool) {
	c := b.ctl()
	if c.Scheduler == nil {
		b.unavailable(chatID, "The scheduler")
		return
	}

	var err error
	if on {
		err = c.Scheduler.Enable(ctx)
	} else {
		err = c.Scheduler.Disable(ctx)
	}
	if err != nil {
		b.sendMessage(chatID, fmt.Sprintf("❌ Could not update the scheduler: %s", html.EscapeString(err.Error())))
		return
	}

	if on {
		b.sendMessage(chatID, "▶️ Scheduled runs enabled.")
	} else {
		b.sendMessage(chatID, "⏸️ Scheduled runs disabled.")
	}
}

func (b *Bot) handleScrapeNow(ctx context.Context, chatID int64) {
	c := b.ctl()
	if c.Scheduler == nil {
		b.unavailable(chatID, "The scheduler")
		return
	}

	b.sendMessage(chatID, "🔄 Running a cycle now. The result will follow.")
	started := b.spawn(func() {
		if err := c.Scheduler.RunNow(ctx); err != nil {
			b.logger.Error("manual run failed", zap.Error(err))
			b.sendMessage(chatID, fmt.Sprintf("❌ Manual run failed: %s", html.EscapeString(err.Error())))
		}
	})
	if !started {
		b.sendMessage(chatID, "⏹ The bot is shutting down, the cycle was not started.")
	}
}

func (b *Bot) handleSettings(chatID int64) {
	c := b.ctl()
	if c.Settings == nil {
		b.unavailable(chatID, "Settings")
		return
	}

	var sb strings.Builder
	sb.WriteString("⚙️ <b>Settings</b>\n")
	for _, e := range c.Settings.All() {
		fmt.Fprintf(&sb, "\n<code>%s</code> = <b>%s</b>\n%s\n",
			e.Key, html.EscapeString(e.Value.String()), html.EscapeString(e.Description))
	}
	sb.WriteString("\nChange one with /set KEY VALUE")
	b.sendMessage(chatID, sb.String())
}

func (b *Bot) handleSet(ctx context.Context, chatID int64, args string) {
	c := b.ctl()
	if c.Settings == nil {
		b.unavailable(chatID, "Settings")
		return
	}

	key, raw, _ := strings.Cut(args, " ")
	key = strings.ToUpper(strings.TrimSpace(key))
	raw = strings.TrimSpace(raw)
	if key == "" || raw == "" {
		b.sendMessage(chatID, "Usage: /set KEY VALUE\nExample: <code>/set REDDIT_SUBREDDITS golang,rust</code>")
		return
	}

	if key == config.KeyAutoEnabled && c.Scheduler != nil {
		on, err := config.ParseBool(raw)
		if err != nil {
			b.sendMessage(chatID, fmt.Sprintf("❌ %s", html.EscapeString(err.Error())))
			return
		}
		b.handleToggle(ctx, chatID, on)
		return
	}

	v, err := c.Settings.Set(ctx, key, raw)
	switch {
	case errors.Is(err, config.ErrUnknownKey):
		b.sendMessage(chatID, fmt.Sprintf("❌ Unknown setting <code>%s</code>. Use /settings to list them.", html.EscapeString(key)))
		return
	case err != nil:
		b.sendMessage(chatID, fmt.Sprintf("❌ %s", html.EscapeString(err.Error())))
		return
	}

	b.logger.Info("setting changed by operator", zap.String("key", key), zap.String("value", v.String()))
	b.sendMessage(chatID, fmt.Sprintf("✅ <code>%s</code> set to <b>%s</b>", key, html.EscapeString(v.String())))
}

func (b *Bot) handleTestTwitter(ctx context.Context, chatID int64) {
	c := b.ctl()
	if c.Account == nil {
		b.unavailable(chatID, "The publishing account check")
		return
	}

	id, err := c.Account.Verify(ctx)
	if err != nil {
		b.sendMessage(chatID, fmt.Sprintf("❌ <b>Twitter check failed</b>\n\n%s", html.EscapeString(err.Error())))
		return
	}
	b.sendMessage(chatID, fmt.Sprintf("✅ <b>Twitter connection OK</b>\n\nAccount: @%s\nFollowers: %d",
		html.EscapeString(id.Username), id.Followers))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format(timeLayout)
}
