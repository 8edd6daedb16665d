// Package shortener is the HTTP client for the remote link-shortening API.
//
// The provider is called as
//
//	GET <APIURL>?api=<credential>&url=<long url>
//
// and answers with a JSON object whose "shortenedUrl" field carries the short
// link. Every call is a single attempt; the client never retries and its
// timeout is the only bound on a call's duration.
//
// Observability: each call is traced (span "Shorten") and counted in
// shortener_requests_total{outcome} with latency in
// shortener_request_duration_seconds.
package shortener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Outcome label values for shortener_requests_total.
const (
	OutcomeOK        = "ok"
	OutcomeHTTPError = "http_error"
	OutcomeNetwork   = "network_error"
	OutcomeDecode    = "decode_error"
	OutcomeNoResult  = "missing_result"
)

// maxBody caps how much of a provider response is read.
const maxBody = 1 << 20

var (
	// ErrNoShortURL is returned when a 2xx response lacks a usable
	// shortenedUrl field.
	ErrNoShortURL = errors.New("shortener: response has no shortenedUrl")

	// ErrInvalidRequest is returned for an empty credential or url.
	ErrInvalidRequest = errors.New("shortener: credential and url are required")
)

var (
	shortenReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortener_requests_total",
			Help: "Total number of calls to the link-shortening API by outcome.",
		},
		[]string{"outcome"},
	)

	shortenLat = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shortener_request_duration_seconds",
			Help:    "Duration of link-shortening API calls in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(shortenReqs, shortenLat)
}

// HTTPError reports a non-2xx answer from the provider.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("shortener http %d", e.StatusCode)
	}
	return fmt.Sprintf("shortener http %d: %s", e.StatusCode, body)
}

// Client calls the provider API over HTTP.
type Client struct {
	http   *http.Client
	apiURL string
	name   string
}

// New returns a client for apiURL. A nil httpClient gets a fresh client with
// the given timeout (15s when timeout <= 0).
func New(httpClient *http.Client, apiURL string, timeout time.Duration, providerName string) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		http:   httpClient,
		apiURL: strings.TrimSpace(apiURL),
		name:   providerName,
	}
}

// Name is the provider's display name.
func (c *Client) Name() string { return c.name }

type shortenResponse struct {
	Status       string `json:"status,omitempty"`
	ShortenedURL string `json:"shortenedUrl"`
}

// Shorten asks the provider for a short link to longURL, authenticated by
// credential.
func (c *Client) Shorten(ctx context.Context, credential, longURL string) (string, error) {
	ctx, span := otel.Tracer("shortener/Client").Start(ctx, "Shorten",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("shortener.provider", c.name),
			attribute.Int("url.length", len(longURL)),
		),
	)
	defer span.End()

	start := time.Now()
	short, outcome, err := c.do(ctx, credential, longURL)
	shortenLat.Observe(time.Since(start).Seconds())
	if outcome != "" {
		shortenReqs.WithLabelValues(outcome).Inc()
	}
	span.SetAttributes(attribute.String("shortener.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return short, nil
}

func (c *Client) do(ctx context.Context, credential, longURL string) (string, string, error) {
	if strings.TrimSpace(credential) == "" || strings.TrimSpace(longURL) == "" {
		return "", "", ErrInvalidRequest
	}
	u, err := url.Parse(c.apiURL)
	if err != nil {
		return "", "", fmt.Errorf("parse shortener url: %w", err)
	}
	q := u.Query()
	q.Set("api", credential)
	q.Set("url", longURL)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// *url.Error quotes the full request URL, credential included.
		var ue *url.Error
		if errors.As(err, &ue) {
			return "", OutcomeNetwork, fmt.Errorf("shortener request: %s: %w", ue.Op, ue.Err)
		}
		return "", OutcomeNetwork, fmt.Errorf("shortener request: %w", err)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	_ = resp.Body.Close()
	if err != nil {
		return "", OutcomeNetwork, fmt.Errorf("read shortener response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", OutcomeHTTPError, &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var out shortenResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", OutcomeDecode, fmt.Errorf("decode shortener response: %w", err)
	}
	short := strings.TrimSpace(out.ShortenedURL)
	if short == "" {
		return "", OutcomeNoResult, ErrNoShortURL
	}
	return short, OutcomeOK, nil
}
