package sources

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/ObiAU/commentcurator/internal/logging"
	"github.com/ObiAU/commentcurator/internal/models"
)

const feedAccept = "application/atom+xml, application/rss+xml, application/xml;q=0.9"

// RSSBackend reads the public Atom feeds. It needs no credentials, but feeds
// carry no scores, so every entry reports 0.
type RSSBackend struct {
	baseURL string
	req     *requester
	logger  *zap.Logger
}

func NewRSSBackend(opts Options, logger *zap.Logger) *RSSBackend {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = publicBaseURL
	}

	return &RSSBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		req: &requester{
			client:    client,
			limiter:   opts.limiter(),
			userAgent: opts.userAgent(),
		},
		logger: logging.OrNop(logger).Named("reddit-rss"),
	}
}

func (b *RSSBackend) Name() string {
	return "reddit-rss"
}

func (b *RSSBackend) ListParents(ctx context.Context, spec models.SourceSpec) ([]models.Parent, error) {
	params := url.Values{}
	params.Set("limit", fmt.Sprint(spec.ParentLimit))
	if spec.Mode.UsesTimeWindow() && spec.TimeWindow != "" {
		params.Set("t", spec.TimeWindow)
	}
	endpoint := fmt.Sprintf("%s/r/%s/%s/.rss?%s", b.baseURL, url.PathEscape(spec.Name), spec.Mode, params.Encode())

	feed, err := b.parse(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	parents := make([]models.Parent, 0, len(feed.Items))
	for _, item := range feed.Items {
		id, ok := thingID(item.GUID, "t3_")
		if !ok {
			continue
		}
		parents = append(parents, models.Parent{
			ID:      id,
			Title:   item.Title,
			Author:  feedAuthor(item),
			Created: feedTime(item),
			URL:     item.Link,
			Source:  spec.Name,
		})
	}
	return parents, nil
}

func (b *RSSBackend) ListChildren(ctx context.Context, spec models.SourceSpec, parent models.Parent) ([]models.RawEntry, error) {
	endpoint := fmt.Sprintf("%s/r/%s/comments/%s/.rss", b.baseURL, url.PathEscape(spec.Name), url.PathEscape(parent.ID))

	feed, err := b.parse(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var entries []models.RawEntry
	for _, item := range feed.Items {
		// The thread feed opens with the post itself.
		id, ok := thingID(item.GUID, "t1_")
		if !ok {
			continue
		}
		body := item.Content
		if body == "" {
			body = item.Description
		}
		author := feedAuthor(item)
		entries = append(entries, models.RawEntry{
			ParentID:    parent.ID,
			ID:          id,
			Author:      author,
			Body:        htmlToText(body),
			Created:     feedTime(item),
			ParentRef:   "t3_" + parent.ID,
			IsSubmitter: author != "" && author == parent.Author,
			Source:      spec.Name,
		})
	}
	return entries, nil
}

func (b *RSSBackend) parse(ctx context.Context, endpoint string) (*gofeed.Feed, error) {
	body, err := b.req.get(ctx, endpoint, feedAccept)
	if err != nil {
		return nil, err
	}
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", endpoint, err)
	}
	return feed, nil
}

func thingID(guid, prefix string) (string, bool) {
	if !strings.HasPrefix(guid, prefix) {
		return "", false
	}
	return strings.TrimPrefix(guid, prefix), true
}

func feedAuthor(item *gofeed.Item) string {
	if item.Author == nil {
		return ""
	}
	return strings.TrimPrefix(item.Author.Name, "/u/")
}

func feedTime(item *gofeed.Item) time.Time {
	switch {
	case item.PublishedParsed != nil:
		return item.PublishedParsed.UTC()
	case item.UpdatedParsed != nil:
		return item.UpdatedParsed.UTC()
	}
	return time.Time{}
}
