package horizon

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

	"github.com/rs/zerolog"

	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/logging"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/ratelimit"
)

const defaultBaseURL = "https://horizon.stellar.org"

// Options parameterise the Horizon client.
type Options struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	PageLimit int
}

// Client is a typed Horizon REST client. Every request passes through the
// shared rate limiter.
type Client struct {
	opts    Options
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

// NewClient constructs a Horizon client.
func NewClient(opts Options, limiter *ratelimit.Limiter, logger zerolog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.PageLimit <= 0 || opts.PageLimit > 200 {
		opts.PageLimit = 200
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Client{
		opts:    opts,
		baseURL: baseURL,
		http:    ratelimit.NewHTTPClient(limiter, opts.Timeout),
		logger:  logging.Component(logger, "horizon"),
	}
}

// StatusError is a non-2xx Horizon response.
type StatusError struct {
	StatusCode int
	Title      string
	Detail     string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("horizon error (%d)", e.StatusCode)
	if e.Title != "" {
		msg += ": " + e.Title
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Retryable reports whether the request may succeed later.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsNotFound reports whether err is a Horizon 404.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// IsRetryable classifies transport and Horizon errors. Anything that is not
// a definitive Horizon answer is treated as transient.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

func parseHTTPError(status int, payload []byte) error {
	se := &StatusError{StatusCode: status}
	var p problem
	if err := json.Unmarshal(payload, &p); err == nil && (p.Title != "" || p.Detail != "") {
		se.Title = p.Title
		se.Detail = p.Detail
		return se
	}
	if len(payload) > 0 {
		se.Detail = strings.TrimSpace(string(payload))
	}
	return se
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/hal+json, application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("horizon GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("horizon GET %s: read body: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return parseHTTPError(resp.StatusCode, payload)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("horizon GET %s: decode: %w", path, err)
	}
	return nil
}

// Root is the subset of the Horizon root resource used for ledger bounds.
type Root struct {
	HorizonVersion         string    `json:"horizon_version"`
	CoreVersion            string    `json:"core_version"`
	NetworkPassphrase      string    `json:"network_passphrase"`
	HistoryLatestLedger    uint32    `json:"history_latest_ledger"`
	HistoryLatestClosedAt  time.Time `json:"history_latest_ledger_closed_at"`
	HistoryElderLedger     uint32    `json:"history_elder_ledger"`
	CoreLatestLedger       uint32    `json:"core_latest_ledger"`
	CurrentProtocolVersion int32     `json:"current_protocol_version"`
}

// Root fetches the Horizon root resource.
func (c *Client) Root(ctx context.Context) (Root, error) {
	var root Root
	if err := c.getJSON(ctx, "/", nil, &root); err != nil {
		return Root{}, err
	}
	return root, nil
}
