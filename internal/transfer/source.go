package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const (
	IndexPlaceholder = "{index}"
	FilePlaceholder  = "{file}"

	// maxErrorBody bounds how much of a non-success body ends up in an error.
	maxErrorBody = 512
)

// Source fetches a single session file from the publisher.
type Source interface {
	Fetch(ctx context.Context, index int, file string) (*Response, error)
}

// Response is a successful (2xx) publisher response. The caller must close Body.
type Response struct {
	URL           string
	StatusCode    int
	ContentType   string
	ContentLength int64
	Body          io.ReadCloser
}

// SourceOptions configures the HTTP source.
type SourceOptions struct {
	// Timeout for a whole request including the body. Default: 2m
	Timeout time.Duration

	// RequestsPerSecond paces requests toward the publisher. Zero disables pacing.
	RequestsPerSecond float64

	// UserAgent sent with every request.
	UserAgent string

	// Transport overrides the base round tripper. It is always wrapped with otelhttp.
	Transport http.RoundTripper
}

// HTTPSource issues blocking GETs against a URL template.
type HTTPSource struct {
	template  string
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
}

// NewHTTPSource creates a source for template, which must contain {index} and {file}.
func NewHTTPSource(template string, opts SourceOptions) *HTTPSource {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}

	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &HTTPSource{
		template:  template,
		client:    &http.Client{Timeout: opts.Timeout, Transport: otelhttp.NewTransport(base)},
		limiter:   rate.NewLimiter(limit, 1),
		userAgent: opts.UserAgent,
	}
}

// BuildURL substitutes index and file into template.
func BuildURL(template string, index int, file string) string {
	return strings.NewReplacer(
		IndexPlaceholder, strconv.Itoa(index),
		FilePlaceholder, url.PathEscape(file),
	).Replace(template)
}

// Fetch returns the response for (index, file). Transport failures and
// non-2xx statuses are returned as *NetworkError.
func (s *HTTPSource) Fetch(ctx context.Context, index int, file string) (*Response, error) {
	target := BuildURL(s.template, index, file)

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &NetworkError{Operation: "fetch", APIMessage: "invalid request", Err: err}
	}

	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &NetworkError{Operation: "fetch", APIMessage: err.Error(), Err: err}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()

		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		msg := strings.TrimSpace(string(b))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}

		return nil, &NetworkError{Operation: "fetch", StatusCode: resp.StatusCode, APIMessage: msg}
	}

	return &Response{
		URL:           target,
		StatusCode:    resp.StatusCode,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
		Body:          resp.Body,
	}, nil
}
