// Package remote is the HTTP transport for the booru catalog and tag APIs.
package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/JakeFAU/booru-tag-crawler/internal/booru"
	"github.com/JakeFAU/booru-tag-crawler/internal/metrics"
	"github.com/JakeFAU/booru-tag-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/booru-tag-crawler/internal/retry"
)

// Endpoint names used for rate limiting and metrics.
const (
	EndpointPosts = "posts"
	EndpointTags  = "tags"
)

// Config describes where the API lives and how to talk to it.
type Config struct {
	BaseURL   string
	PostsPath string
	TagsPath  string
	UserAgent string
	Timeout   time.Duration
}

// Client implements booru.Remote over HTTP. Transport failures, non-200
// statuses and undecodable bodies are all reported as transient.
type Client struct {
	base       *url.URL
	postsPath  string
	tagsPath   string
	userAgent  string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	logger     *zap.Logger
}

var _ booru.Remote = (*Client)(nil)

// New builds a Client. httpClient and limiter may be nil.
func New(cfg Config, httpClient *http.Client, limiter *ratelimit.Limiter, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("api base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, errors.Wrapf(err, "parse api base url %q", cfg.BaseURL)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, errors.Newf("api base url %q must be absolute", cfg.BaseURL)
	}
	if cfg.PostsPath == "" {
		cfg.PostsPath = "/post/index.json"
	}
	if cfg.TagsPath == "" {
		cfg.TagsPath = "/tag/index.json"
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		base:       base,
		postsPath:  cfg.PostsPath,
		tagsPath:   cfg.TagsPath,
		userAgent:  cfg.UserAgent,
		httpClient: httpClient,
		limiter:    limiter,
		logger:     logger,
	}, nil
}

// ListPosts fetches one catalog page.
func (c *Client) ListPosts(ctx context.Context, page, limit int) ([]booru.PostRecord, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("limit", strconv.Itoa(limit))

	var raw []postJSON
	if err := c.get(ctx, EndpointPosts, c.postsPath, query, &raw); err != nil {
		return nil, err
	}
	records := make([]booru.PostRecord, 0, len(raw))
	for _, p := range raw {
		records = append(records, booru.PostRecord{
			ID:        p.ID,
			Tags:      p.Tags,
			CreatedAt: p.CreatedAt.Time,
			MD5:       p.MD5,
			FileURL:   p.FileURL,
			Author:    p.Author,
		})
	}
	return records, nil
}

// SearchTags looks a tag up with no result limit.
func (c *Client) SearchTags(ctx context.Context, name string) ([]booru.Tag, error) {
	query := url.Values{}
	query.Set("name", name)
	query.Set("limit", "0")

	var raw []tagJSON
	if err := c.get(ctx, EndpointTags, c.tagsPath, query, &raw); err != nil {
		return nil, err
	}
	tags := make([]booru.Tag, 0, len(raw))
	for _, t := range raw {
		tags = append(tags, booru.Tag{Name: t.Name, Type: t.kind()})
	}
	return tags, nil
}

// CloseIdleConnections releases pooled connections on shutdown.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

func (c *Client) get(ctx context.Context, endpoint, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx, endpoint); err != nil {
		return err
	}

	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	c.logger.Debug("calling remote", zap.String("endpoint", endpoint), zap.String("url", u.String()))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveRemoteRequest(endpoint, "transport")
		return retry.MarkTransient(errors.Wrapf(err, "request %s", endpoint))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.ObserveRemoteRequest(endpoint, "status")
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return retry.MarkTransient(errors.Newf("%s returned %s: %s",
			endpoint, resp.Status, strings.TrimSpace(string(snippet))))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		metrics.ObserveRemoteRequest(endpoint, "decode")
		return retry.MarkTransient(errors.Wrapf(err, "decode %s response", endpoint))
	}
	metrics.ObserveRemoteRequest(endpoint, "ok")
	return nil
}
