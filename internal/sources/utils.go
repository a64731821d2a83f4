package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"
)

const (
	defaultUserAgent = "CommentCurator/1.0"
	requestTimeout   = 30 * time.Second
	maxBodyBytes     = 8 << 20
)

// Options configures both backends. Zero values pick public defaults.
type Options struct {
	BaseURL           string
	TokenURL          string
	ClientID          string
	ClientSecret      string
	Username          string
	Password          string
	UserAgent         string
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

func (o Options) userAgent() string {
	if o.UserAgent == "" {
		return defaultUserAgent
	}
	return o.UserAgent
}

func (o Options) limiter() *rate.Limiter {
	if o.RequestsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(o.RequestsPerSecond), 1)
}

// requester performs paced GETs with the configured User-Agent.
type requester struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
}

func (r *requester) get(ctx context.Context, url, accept string) ([]byte, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// userAgentTransport stamps every outgoing request, token requests included.
type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(req)
}

// removedBody reports whether a child body carries no usable text.
func removedBody(body string) bool {
	switch strings.TrimSpace(body) {
	case "", "[deleted]", "[removed]":
		return true
	}
	return false
}

// htmlToText reduces an HTML fragment to its readable text. Reddit wraps
// rendered markdown in a div.md; when present only that part is kept.
func htmlToText(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.TrimSpace(fragment)
	}

	sel := doc.Find("div.md").First()
	if sel.Length() == 0 {
		sel = doc.Find("body")
	}

	var parts []string
	sel.Find("p, li, pre, blockquote").Each(func(_ int, s *goquery.Selection) {
		if s.ParentsFiltered("p, li, pre, blockquote").Length() > 0 {
			return
		}
		if text := strings.TrimSpace(s.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	if len(parts) == 0 {
		return strings.TrimSpace(sel.Text())
	}
	return strings.Join(parts, "\n\n")
}
