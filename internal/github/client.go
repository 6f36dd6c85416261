package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v68/github"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const userAgent = "scanwarden"

// Client bundles the go-github client with the http.Client it uses.
type Client struct {
	Client *github.Client
	HTTP   *http.Client
}

type options struct {
	verbose bool
	logger  *zerolog.Logger
	baseURL string
}

type Option func(*options)

// WithVerbose logs one line per API request and response.
func WithVerbose(enabled bool) Option {
	return func(o *options) { o.verbose = enabled }
}

// WithLogger overrides the logger used for verbose request logs.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = &l }
}

// WithBaseURL points the client at a GitHub Enterprise or test server.
func WithBaseURL(raw string) Option {
	return func(o *options) { o.baseURL = raw }
}

// loggingRoundTripper emits one log line per request and response
// (including latency). Logs go to stderr so NDJSON on stdout stays clean.
type loggingRoundTripper struct {
	base   http.RoundTripper
	logger zerolog.Logger
}

func (t *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	t.logger.Info().Str("method", req.Method).Str("url", req.URL.String()).Msg("github api request")
	resp, err := t.base.RoundTrip(req)
	dur := time.Since(start).Truncate(time.Millisecond)
	if err != nil {
		t.logger.Info().Err(err).Dur("latency", dur).Msg("github api error")
		return resp, err
	}
	t.logger.Info().
		Int("status", resp.StatusCode).
		Str("remaining", resp.Header.Get("X-RateLimit-Remaining")).
		Dur("latency", dur).
		Msg("github api response")
	return resp, nil
}

func NewClient(ctx context.Context, token string, opts ...Option) (*Client, error) {
	if ctx == nil {
		return nil, fmt.Errorf("github client: ctx is nil")
	}

	o := &options{}
	for _, apply := range opts {
		if apply != nil {
			apply(o)
		}
	}

	transport := http.DefaultTransport
	if o.verbose {
		logger := log.With().Str("component", "github").Logger()
		if o.logger != nil {
			logger = *o.logger
		}
		transport = &loggingRoundTripper{base: transport, logger: logger}
	}
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		transport = &oauth2.Transport{Source: ts, Base: transport}
	}
	// Always provide an http.Client so verbose logging works even without a token.
	tc := &http.Client{Transport: transport, Timeout: 30 * time.Second}

	gc := github.NewClient(tc)
	gc.UserAgent = userAgent
	if o.baseURL != "" {
		u, err := url.Parse(strings.TrimSuffix(o.baseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("github client: invalid base URL: %w", err)
		}
		gc.BaseURL = u
		gc.UploadURL = u
	}

	return &Client{Client: gc, HTTP: tc}, nil
}
