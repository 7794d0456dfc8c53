package edgar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const (
	VERSION = "0.1.0"

	// DefaultRateLimit is the SEC fair-access ceiling in requests per second.
	DefaultRateLimit = 10

	// DefaultTimeout bounds a single request/response round trip.
	DefaultTimeout = 30 * time.Second

	// SecEmailEnvVar is the environment variable name for SEC email
	SecEmailEnvVar = "SEC_EMAIL"

	DefaultDataBaseURL     = "https://data.sec.gov"
	DefaultArchivesBaseURL = "https://www.sec.gov"

	instrumentationName = "github.com/RxDataLab/edgar-insider"
)

// ErrInvalidUserAgent is returned by NewClient when the identifying header
// the SEC requires is missing or malformed. It is a configuration error.
var ErrInvalidUserAgent = errors.New("invalid SEC user agent")

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

// BuildUserAgent creates a proper SEC User-Agent string
func BuildUserAgent(email string) string {
	return fmt.Sprintf("edgar-insider/%s (%s)", VERSION, email)
}

// ValidateUserAgent checks that ua carries both a name and a contact email,
// which is what the SEC expects from automated clients.
func ValidateUserAgent(ua string) error {
	ua = strings.TrimSpace(ua)
	if ua == "" {
		return fmt.Errorf("%w: empty", ErrInvalidUserAgent)
	}
	email := emailPattern.FindString(ua)
	if email == "" {
		return fmt.Errorf("%w: %q has no contact email", ErrInvalidUserAgent, ua)
	}
	if strings.HasSuffix(strings.ToLower(email), "example.com") {
		return fmt.Errorf("%w: use a real email address, not %s", ErrInvalidUserAgent, email)
	}
	name := strings.Trim(strings.Replace(ua, email, "", 1), " \t()<>,;:")
	if name == "" {
		return fmt.Errorf("%w: %q has no name", ErrInvalidUserAgent, ua)
	}
	return nil
}

// StatusError reports a non-success HTTP status from an SEC endpoint.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("SEC returned status %d for %s", e.StatusCode, e.URL)
}

// Client talks to the SEC submissions and archive hosts. Every request carries
// the configured User-Agent and is paced by a shared rate limiter.
type Client struct {
	httpClient      *http.Client
	userAgent       string
	limiter         *rate.Limiter
	dataBaseURL     string
	archivesBaseURL string
	tracer          trace.Tracer
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client (30s timeout).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRateLimit sets the request rate in requests per second. Zero or a
// negative value disables pacing.
func WithRateLimit(rps float64) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithBaseURLs points the client at different hosts (tests use httptest).
func WithBaseURLs(dataBaseURL, archivesBaseURL string) ClientOption {
	return func(c *Client) {
		if dataBaseURL != "" {
			c.dataBaseURL = strings.TrimRight(dataBaseURL, "/")
		}
		if archivesBaseURL != "" {
			c.archivesBaseURL = strings.TrimRight(archivesBaseURL, "/")
		}
	}
}

// NewClient validates userAgent and returns a ready client.
func NewClient(userAgent string, opts ...ClientOption) (*Client, error) {
	if err := ValidateUserAgent(userAgent); err != nil {
		return nil, err
	}
	c := &Client{
		httpClient:      &http.Client{Timeout: DefaultTimeout},
		userAgent:       strings.TrimSpace(userAgent),
		limiter:         rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		dataBaseURL:     DefaultDataBaseURL,
		archivesBaseURL: DefaultArchivesBaseURL,
		tracer:          otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// UserAgent returns the identifying header value sent with each request.
func (c *Client) UserAgent() string { return c.userAgent }

// FetchDocument fetches a filing document (Form 4 XML) by URL.
func (c *Client) FetchDocument(ctx context.Context, url string) ([]byte, error) {
	return c.get(ctx, url, "application/xml,text/xml")
}

func (c *Client) get(ctx context.Context, url, accept string) (body []byte, err error) {
	ctx, span := c.tracer.Start(ctx, "sec.get", trace.WithAttributes(attribute.String("http.url", url)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", accept)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}
