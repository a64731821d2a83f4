package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/ObiAU/commentcurator/internal/logging"
	"github.com/ObiAU/commentcurator/internal/models"
)

const (
	publicBaseURL = "https://www.reddit.com"
	oauthBaseURL  = "https://oauth.reddit.com"
	tokenURL      = "https://www.reddit.com/api/v1/access_token"
)

// RedditClient reads listings and comment threads from the JSON API.
type RedditClient struct {
	baseURL string
	req     *requester
	logger  *zap.Logger
}

type listing struct {
	Kind string `json:"kind"`
	Data struct {
		Children []thing `json:"children"`
	} `json:"data"`
}

type thing struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type postData struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Author      string  `json:"author"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	CreatedUTC  float64 `json:"created_utc"`
	Permalink   string  `json:"permalink"`
	Subreddit   string  `json:"subreddit"`
}

type commentData struct {
	ID          string          `json:"id"`
	Author      string          `json:"author"`
	Body        string          `json:"body"`
	Score       int             `json:"score"`
	CreatedUTC  float64         `json:"created_utc"`
	ParentID    string          `json:"parent_id"`
	IsSubmitter bool            `json:"is_submitter"`
	Replies     json.RawMessage `json:"replies"`
}

// NewRedditClient returns a JSON API client. With client credentials it
// talks to the OAuth host (password grant when a username is set,
// application-only otherwise); without them it uses the public host.
func NewRedditClient(opts Options, logger *zap.Logger) *RedditClient {
	logger = logging.OrNop(logger).Named("reddit")
	ua := opts.userAgent()

	base := opts.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: requestTimeout}
	}
	transport := base.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client := &http.Client{
		Timeout:   base.Timeout,
		Transport: &userAgentTransport{base: transport, userAgent: ua},
	}

	baseURL := opts.BaseURL
	if opts.ClientID != "" && opts.ClientSecret != "" {
		if baseURL == "" {
			baseURL = oauthBaseURL
		}
		client = oauthClient(opts, client)
		logger.Info("using authenticated reddit access", zap.Bool("user_context", opts.Username != ""))
	} else if baseURL == "" {
		baseURL = publicBaseURL
	}

	return &RedditClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		req: &requester{
			client:    client,
			limiter:   opts.limiter(),
			userAgent: ua,
		},
		logger: logger,
	}
}

func oauthClient(opts Options, client *http.Client) *http.Client {
	endpoint := opts.TokenURL
	if endpoint == "" {
		endpoint = tokenURL
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, client)

	var ts oauth2.TokenSource
	if opts.Username != "" {
		cfg := &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: endpoint, AuthStyle: oauth2.AuthStyleInHeader},
		}
		ts = oauth2.ReuseTokenSource(nil, &passwordSource{ctx: ctx, cfg: cfg, username: opts.Username, password: opts.Password})
	} else {
		cfg := &clientcredentials.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			TokenURL:     endpoint,
			AuthStyle:    oauth2.AuthStyleInHeader,
		}
		ts = cfg.TokenSource(ctx)
	}

	authed := oauth2.NewClient(ctx, ts)
	authed.Timeout = client.Timeout
	return authed
}

// passwordSource fetches a user-context token with the resource owner
// password grant each time the cached one expires.
type passwordSource struct {
	ctx      context.Context
	cfg      *oauth2.Config
	username string
	password string
}

func (p *passwordSource) Token() (*oauth2.Token, error) {
	return p.cfg.PasswordCredentialsToken(p.ctx, p.username, p.password)
}

func (c *RedditClient) Name() string {
	return "reddit-json"
}

// ListParents lists up to spec.ParentLimit posts in spec.Mode order.
func (c *RedditClient) ListParents(ctx context.Context, spec models.SourceSpec) ([]models.Parent, error) {
	params := url.Values{}
	params.Set("limit", fmt.Sprint(spec.ParentLimit))
	params.Set("raw_json", "1")
	if spec.Mode.UsesTimeWindow() && spec.TimeWindow != "" {
		params.Set("t", spec.TimeWindow)
	}
	endpoint := fmt.Sprintf("%s/r/%s/%s.json?%s", c.baseURL, url.PathEscape(spec.Name), spec.Mode, params.Encode())

	body, err := c.req.get(ctx, endpoint, "application/json")
	if err != nil {
		return nil, err
	}

	var l listing
	if err := json.Unmarshal(body, &l); err != nil {
		return nil, fmt.Errorf("decode listing for %s: %w", spec.Name, err)
	}

	parents := make([]models.Parent, 0, len(l.Data.Children))
	for _, child := range l.Data.Children {
		if child.Kind != "t3" {
			continue
		}
		var p postData
		if err := json.Unmarshal(child.Data, &p); err != nil {
			c.logger.Debug("skipping undecodable post", zap.Error(err))
			continue
		}
		source := p.Subreddit
		if source == "" {
			source = spec.Name
		}
		parents = append(parents, models.Parent{
			ID:       p.ID,
			Title:    p.Title,
			Author:   p.Author,
			Score:    p.Score,
			Comments: p.NumComments,
			Created:  unixSeconds(p.CreatedUTC),
			URL:      publicBaseURL + p.Permalink,
			Source:   source,
		})
	}
	return parents, nil
}

// ListChildren returns the parent's loaded comment tree, flattened
// breadth-first. Collapsed "more" stubs are not expanded.
func (c *RedditClient) ListChildren(ctx context.Context, spec models.SourceSpec, parent models.Parent) ([]models.RawEntry, error) {
	endpoint := fmt.Sprintf("%s/comments/%s.json?raw_json=1", c.baseURL, url.PathEscape(parent.ID))

	body, err := c.req.get(ctx, endpoint, "application/json")
	if err != nil {
		return nil, err
	}

	var pages []listing
	if err := json.Unmarshal(body, &pages); err != nil {
		return nil, fmt.Errorf("decode comments for %s: %w", parent.ID, err)
	}
	if len(pages) < 2 {
		return nil, fmt.Errorf("comments for %s: expected 2 listings, got %d", parent.ID, len(pages))
	}

	var entries []models.RawEntry
	queue := append([]thing(nil), pages[1].Data.Children...)
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if node.Kind != "t1" {
			continue
		}

		var cd commentData
		if err := json.Unmarshal(node.Data, &cd); err != nil {
			c.logger.Debug("skipping undecodable comment", zap.Error(err))
			continue
		}

		author := cd.Author
		if author == "" {
			author = "[deleted]"
		}
		entries = append(entries, models.RawEntry{
			ParentID:    parent.ID,
			ID:          cd.ID,
			Author:      author,
			Body:        cd.Body,
			Score:       cd.Score,
			Created:     unixSeconds(cd.CreatedUTC),
			ParentRef:   cd.ParentID,
			IsSubmitter: cd.IsSubmitter,
			Source:      spec.Name,
		})

		// replies is "" for leaves and a listing otherwise.
		if len(cd.Replies) > 0 && cd.Replies[0] == '{' {
			var replies listing
			if err := json.Unmarshal(cd.Replies, &replies); err == nil {
				queue = append(queue, replies.Data.Children...)
			}
		}
	}
	return entries, nil
}

func unixSeconds(v float64) time.Time {
	sec := int64(v)
	return time.Unix(sec, int64((v-float64(sec))*float64(time.Second))).UTC()
}
