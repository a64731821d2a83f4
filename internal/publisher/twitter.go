package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dghubble/oauth1"
	"go.uber.org/zap"

	"github.com/ObiAU/commentcurator/internal/config"
	"github.com/ObiAU/commentcurator/internal/logging"
	"github.com/ObiAU/commentcurator/internal/models"
)

const twitterAPI = "https://api.twitter.com"

// TwitterClient posts through the X API v2 with OAuth 1.0a user context.
type TwitterClient struct {
	client     *http.Client
	baseURL    string
	configured bool
	logger     *zap.Logger
}

// Identity is the account the credentials belong to.
type Identity struct {
	ID        string
	Username  string
	Followers int
}

type TwitterOption func(*twitterOptions)

type twitterOptions struct {
	baseURL string
	base    *http.Client
}

func WithBaseURL(u string) TwitterOption {
	return func(o *twitterOptions) { o.baseURL = u }
}

func WithHTTPClient(c *http.Client) TwitterOption {
	return func(o *twitterOptions) { o.base = c }
}

func NewTwitterClient(cfg config.TwitterConfig, logger *zap.Logger, opts ...TwitterOption) *TwitterClient {
	o := twitterOptions{
		baseURL: twitterAPI,
		base:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(&o)
	}

	logger = logging.OrNop(logger).Named("twitter")
	c := &TwitterClient{
		baseURL:    strings.TrimRight(o.baseURL, "/"),
		configured: cfg.Configured(),
		logger:     logger,
	}
	if !c.configured {
		logger.Warn("twitter credentials incomplete, publishing disabled")
		return c
	}

	ctx := context.WithValue(context.Background(), oauth1.HTTPClient, o.base)
	c.client = oauth1.NewConfig(cfg.APIKey, cfg.APISecret).
		Client(ctx, oauth1.NewToken(cfg.AccessToken, cfg.AccessTokenSecret))
	c.client.Timeout = o.base.Timeout
	return c
}

func (c *TwitterClient) Configured() bool {
	return c.configured
}

type apiError struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (e apiError) message() string {
	var parts []string
	for _, s := range []string{e.Title, e.Detail} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	for _, sub := range e.Errors {
		if sub.Message != "" {
			parts = append(parts, sub.Message)
		}
	}
	return strings.Join(parts, ": ")
}

// Publish creates one post with text.
func (c *TwitterClient) Publish(ctx context.Context, text string) Result {
	if !c.configured {
		return failure(text, &Error{Kind: models.KindPublishUnknown, Message: "publisher not configured"})
	}

	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return failure(text, &Error{Kind: models.KindPublishUnknown, Message: err.Error()})
	}

	var created struct {
		Data struct {
			ID   string `json:"id"`
			Text string `json:"text"`
		} `json:"data"`
	}
	if perr := c.do(ctx, http.MethodPost, "/2/tweets", bytes.NewReader(payload), &created); perr != nil {
		c.logger.Error("publish failed",
			zap.String("kind", string(perr.Kind)),
			zap.Int("status", perr.Status),
			zap.String("message", perr.Message))
		return failure(text, perr)
	}

	c.logger.Info("published", zap.String("id", created.Data.ID))
	return Result{Success: true, ID: created.Data.ID, Content: text}
}

// Verify checks the credentials by fetching the authenticated account.
func (c *TwitterClient) Verify(ctx context.Context) (Identity, error) {
	if !c.configured {
		return Identity{}, &Error{Kind: models.KindPublishUnknown, Message: "publisher not configured"}
	}

	var me struct {
		Data struct {
			ID            string `json:"id"`
			Username      string `json:"username"`
			PublicMetrics struct {
				Followers int `json:"followers_count"`
			} `json:"public_metrics"`
		} `json:"data"`
	}
	if perr := c.do(ctx, http.MethodGet, "/2/users/me?user.fields=public_metrics", nil, &me); perr != nil {
		return Identity{}, perr
	}
	return Identity{ID: me.Data.ID, Username: me.Data.Username, Followers: me.Data.PublicMetrics.Followers}, nil
}

func (c *TwitterClient) do(ctx context.Context, method, path string, body io.Reader, out any) *Error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &Error{Kind: models.KindPublishUnknown, Message: err.Error()}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &Error{Kind: models.KindPublishUnknown, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &Error{Kind: models.KindPublishUnknown, Status: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode/100 != 2 {
		var ae apiError
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &ae) == nil && ae.message() != "" {
			msg = ae.message()
		}
		return &Error{Kind: Classify(resp.StatusCode, msg), Status: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Kind: models.KindPublishUnknown, Status: resp.StatusCode, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return nil
}
