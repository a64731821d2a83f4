package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ObiAU/commentcurator/internal/aggregator"
	"github.com/ObiAU/commentcurator/internal/config"
	"github.com/ObiAU/commentcurator/internal/publisher"
	"github.com/ObiAU/commentcurator/internal/scheduler"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const operator int64 = 4242

type sent struct {
	chatID int64
	text   string
	mode   string
}

type fakeSender struct {
	mu   sync.Mutex
	msgs []sent
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		f.msgs = append(f.msgs, sent{chatID: m.ChatID, text: m.Text, mode: m.ParseMode})
	}
	return tgbotapi.Message{}, f.err
}

func (f *fakeSender) all() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.msgs...)
}

func (f *fakeSender) last(t *testing.T) sent {
	t.Helper()
	all := f.all()
	require.NotEmpty(t, all)
	return all[len(all)-1]
}

type fakeScheduler struct {
	mu        sync.Mutex
	status    scheduler.Status
	enabled   []bool
	runs      int
	runErr    error
	toggleErr error
}

func (s *fakeScheduler) Status() scheduler.Status { return s.status }

func (s *fakeScheduler) Enable(context.Context) error  { return s.toggle(true) }
func (s *fakeScheduler) Disable(context.Context) error { return s.toggle(false) }

func (s *fakeScheduler) toggle(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.toggleErr != nil {
		return s.toggleErr
	}
	s.enabled = append(s.enabled, on)
	return nil
}

func (s *fakeScheduler) RunNow(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs++
	return s.runErr
}

type fakeSettings struct {
	entries []config.Entry
	set     map[string]string
}

func (s *fakeSettings) All() []config.Entry { return s.entries }

func (s *fakeSettings) Set(_ context.Context, key, raw string) (config.Value, error) {
	v, err := config.Resolve(key, raw)
	if err != nil {
		return config.Value{}, err
	}
	if s.set == nil {
		s.set = map[string]string{}
	}
	s.set[key] = raw
	return v, nil
}

type fakeAccount struct {
	id  publisher.Identity
	err error
}

func (a fakeAccount) Verify(context.Context) (publisher.Identity, error) { return a.id, a.err }

type fakeReports struct {
	report aggregator.Report
	ok     bool
}

func (r fakeReports) LastReport() (aggregator.Report, bool) { return r.report, r.ok }

func newTestBot(t *testing.T) (*Bot, *fakeSender) {
	t.Helper()
	send := &fakeSender{}
	b := newBot(&tgbotapi.BotAPI{}, send, config.TelegramConfig{AuthorizedUserID: operator}, nil)
	t.Cleanup(b.Close)
	return b, send
}

func message(from int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: from},
		Chat: &tgbotapi.Chat{ID: from},
		Text: text,
	}}
}

func TestNotifySendsHTMLToOperator(t *testing.T) {
	b, send := newTestBot(t)

	b.Notify(context.Background(), "<b>hello</b>")
	b.wg.Wait()

	msgs := send.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, operator, msgs[0].chatID)
	assert.Equal(t, "<b>hello</b>", msgs[0].text)
	assert.Equal(t, tgbotapi.ModeHTML, msgs[0].mode)
}

func TestNotifySwallowsSendErrors(t *testing.T) {
	b, send := newTestBot(t)
	send.err = errors.New("telegram down")

	assert.NotPanics(t, func() {
		b.Notify(context.Background(), "x")
		b.wg.Wait()
	})
}

func TestNotifyWithoutOperatorIsDropped(t *testing.T) {
	send := &fakeSender{}
	b := newBot(&tgbotapi.BotAPI{}, send, config.TelegramConfig{}, nil)

	b.Notify(context.Background(), "nobody home")
	b.wg.Wait()

	assert.Empty(t, send.all())
}

func TestNotifyDuringClose(t *testing.T) {
	send := &fakeSender{}
	b := newBot(&tgbotapi.BotAPI{}, send, config.TelegramConfig{AuthorizedUserID: operator}, nil)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < 50; j++ {
				b.Notify(context.Background(), "cycle report")
			}
		}()
	}
	close(start)
	time.Sleep(time.Millisecond)
	assert.NotPanics(t, b.Close)
	wg.Wait()

	delivered := len(send.all())
	b.Notify(context.Background(), "after close")
	assert.Len(t, send.all(), delivered)
	assert.LessOrEqual(t, delivered, 8*50)
}

func TestClosedBotRefusesDetachedWork(t *testing.T) {
	b, send := newTestBot(t)
	sched := &fakeScheduler{}
	b.Bind(Controls{Scheduler: sched})
	b.Close()

	b.Notify(context.Background(), "late")
	assert.Empty(t, send.all())

	b.handleUpdate(context.Background(), message(operator, "/scrape_now"))
	assert.Equal(t, 0, sched.runs)
	assert.Contains(t, send.last(t).text, "shutting down")

	body := `{"update_id": 1, "message": {"message_id": 3, "from": {"id": 4242}, "chat": {"id": 4242, "type": "private"}, "text": "/help"}}`
	rec := httptest.NewRecorder()
	b.WebhookHandler(context.Background()).
		ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestUnauthorizedUserIsRejected(t *testing.T) {
	b, send := newTestBot(t)
	sched := &fakeScheduler{}
	b.Bind(Controls{Scheduler: sched})

	b.handleUpdate(context.Background(), message(999, "/start_scraper"))

	got := send.last(t)
	assert.Equal(t, int64(999), got.chatID)
	assert.Contains(t, got.text, "not authorized")
	assert.Empty(t, sched.enabled)
}

func TestHelpAndUnknown(t *testing.T) {
	b, send := newTestBot(t)

	b.handleUpdate(context.Background(), message(operator, "/start"))
	assert.Contains(t, send.last(t).text, "/scrape_now")

	b.handleUpdate(context.Background(), message(operator, "/help@curator_bot"))
	assert.Contains(t, send.last(t).text, "/test_twitter")

	b.handleUpdate(context.Background(), message(operator, "/dance"))
	assert.Contains(t, send.last(t).text, "Unknown command")
}

func TestUpdatesWithoutMessageAreIgnored(t *testing.T) {
	b, send := newTestBot(t)
	b.handleUpdate(context.Background(), tgbotapi.Update{})
	assert.Empty(t, send.all())
}

func TestStatus(t *testing.T) {
	b, send := newTestBot(t)
	next := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	b.Bind(Controls{
		Scheduler: &fakeScheduler{status: scheduler.Status{
			State: scheduler.StateArmed, Enabled: true, Interval: time.Hour, NextRun: next,
		}},
		Reports: fakeReports{ok: true, report: aggregator.Report{
			Outcome: aggregator.OutcomePublished, Sources: 3, SuccessfulSources: 2,
			Entries: 120, Parents: 15, EvalCalls: 12, Elapsed: 42 * time.Second,
		}},
	})

	b.handleUpdate(context.Background(), message(operator, "/status"))

	text := send.last(t).text
	assert.Contains(t, text, "<b>Scheduler:</b> armed")
	assert.Contains(t, text, "<b>Last run:</b> never")
	assert.Contains(t, text, "2026-03-01 12:30:00")
	assert.Contains(t, text, "Outcome: published")
	assert.Contains(t, text, "Sources: 2/3")
	assert.Contains(t, text, "Comments: 120 from 15 posts")
	assert.Contains(t, text, "Evaluation calls: 12")
}

func TestStatusWithoutScheduler(t *testing.T) {
	b, send := newTestBot(t)
	b.handleUpdate(context.Background(), message(operator, "/status"))
	assert.Contains(t, send.last(t).text, "not available")
}

func TestToggleScheduler(t *testing.T) {
	b, send := newTestBot(t)
	sched := &fakeScheduler{}
	b.Bind(Controls{Scheduler: sched})

	b.handleUpdate(context.Background(), message(operator, "/start_scraper"))
	assert.Contains(t, send.last(t).text, "enabled")
	b.handleUpdate(context.Background(), message(operator, "/stop_scraper"))
	assert.Contains(t, send.last(t).text, "disabled")
	assert.Equal(t, []bool{true, false}, sched.enabled)

	sched.toggleErr = errors.New("disk full")
	b.handleUpdate(context.Background(), message(operator, "/start_scraper"))
	assert.Contains(t, send.last(t).text, "disk full")
}

func TestScrapeNow(t *testing.T) {
	b, send := newTestBot(t)
	sched := &fakeScheduler{}
	b.Bind(Controls{Scheduler: sched})

	b.handleUpdate(context.Background(), message(operator, "/scrape_now"))
	b.wg.Wait()

	assert.Equal(t, 1, sched.runs)
	msgs := send.all()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].text, "Running a cycle now")
}

func TestScrapeNowReportsCrash(t *testing.T) {
	b, send := newTestBot(t)
	b.Bind(Controls{Scheduler: &fakeScheduler{runErr: scheduler.ErrCrash}})

	b.handleUpdate(context.Background(), message(operator, "/scrape_now"))
	b.wg.Wait()

	msgs := send.all()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].text, "Manual run failed")
}

func TestSettingsList(t *testing.T) {
	b, send := newTestBot(t)
	defs := config.Definitions()
	b.Bind(Controls{Settings: &fakeSettings{entries: []config.Entry{
		{Definition: defs[config.KeyBatchSize], Value: config.IntValue(7)},
		{Definition: defs[config.KeySubreddits], Value: config.ListValue([]string{"golang", "rust"})},
	}}})

	b.handleUpdate(context.Background(), message(operator, "/settings"))

	text := send.last(t).text
	assert.Contains(t, text, "<code>GEMINI_BATCH_SIZE</code> = <b>7</b>")
	assert.Contains(t, text, "<code>REDDIT_SUBREDDITS</code>")
	assert.Contains(t, text, "golang")
}

func TestSetCommand(t *testing.T) {
	cases := []struct {
		name string
		text string
		want string
	}{
		{"valid", "/set GEMINI_BATCH_SIZE 5", "set to <b>5</b>"},
		{"lower-case key", "/set top_comments_count 20", "<code>TOP_COMMENTS_COUNT</code> set to <b>20</b>"},
		{"unknown key", "/set NOPE 1", "Unknown setting"},
		{"invalid value", "/set GEMINI_BATCH_SIZE lots", "❌"},
		{"missing value", "/set GEMINI_BATCH_SIZE", "Usage"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, send := newTestBot(t)
			b.Bind(Controls{Settings: &fakeSettings{}})

			b.handleUpdate(context.Background(), message(operator, tc.text))

			assert.Contains(t, send.last(t).text, tc.want)
		})
	}
}

func TestSetAutoEnabledGoesThroughScheduler(t *testing.T) {
	b, _ := newTestBot(t)
	sched := &fakeScheduler{}
	settings := &fakeSettings{}
	b.Bind(Controls{Scheduler: sched, Settings: settings})

	b.handleUpdate(context.Background(), message(operator, "/set AUTO_SCRAPER_ENABLED yes"))

	assert.Equal(t, []bool{true}, sched.enabled)
	assert.Empty(t, settings.set)
}

func TestTestTwitter(t *testing.T) {
	b, send := newTestBot(t)

	b.Bind(Controls{Account: fakeAccount{id: publisher.Identity{Username: "curator", Followers: 12}}})
	b.handleUpdate(context.Background(), message(operator, "/test_twitter"))
	assert.Contains(t, send.last(t).text, "@curator")
	assert.Contains(t, send.last(t).text, "Followers: 12")

	b.Bind(Controls{Account: fakeAccount{err: errors.New("publish_auth (status 401): Unauthorized")}})
	b.handleUpdate(context.Background(), message(operator, "/test_twitter"))
	assert.Contains(t, send.last(t).text, "Twitter check failed")
}

func TestWebhookHandler(t *testing.T) {
	b, send := newTestBot(t)
	h := b.WebhookHandler(context.Background())

	body := `{"update_id": 1, "message": {"message_id": 3, "from": {"id": 4242}, "chat": {"id": 4242, "type": "private"}, "text": "/help"}}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body)))
	b.wg.Wait()

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, send.last(t).text, "Commands")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParseCommand(t *testing.T) {
	cmd, args := parseCommand("  /SET@bot  REDDIT_SUBREDDITS golang, rust ")
	assert.Equal(t, "/set", cmd)
	assert.Equal(t, "REDDIT_SUBREDDITS golang, rust", args)
}

func TestNewBotRequiresToken(t *testing.T) {
	_, err := NewBot(config.TelegramConfig{}, nil)
	assert.ErrorIs(t, err, ErrNoToken)
}
