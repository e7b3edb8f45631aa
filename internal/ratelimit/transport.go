package ratelimit

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const defaultThrottlePause = time.Second

// ThrottledError is returned when upstream keeps answering 429 after every
// permitted replay.
type ThrottledError struct {
	URL        string
	RetryAfter time.Duration
	Attempts   int
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("upstream throttled %s after %d attempts (retry after %s)", e.URL, e.Attempts, e.RetryAfter)
}

// Transport is an http.RoundTripper that acquires a token before every
// request and honours upstream throttling headers.
type Transport struct {
	Base    http.RoundTripper
	Limiter *Limiter
	// MaxAttempts bounds replays of a request answered with 429.
	MaxAttempts int
}

// NewHTTPClient wraps http.DefaultTransport with the limiter.
func NewHTTPClient(l *Limiter, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: &Transport{Base: http.DefaultTransport, Limiter: l, MaxAttempts: 3},
	}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	attempts := t.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	current := req
	for attempt := 1; ; attempt++ {
		if err := t.Limiter.Acquire(req.Context()); err != nil {
			return nil, err
		}
		resp, err := base.RoundTrip(current)
		if err != nil {
			return nil, err
		}

		delay, throttled := throttleDelay(resp, t.Limiter.now())
		if resp.StatusCode != http.StatusTooManyRequests {
			if throttled {
				// Quota exhausted but this response is valid.
				t.Limiter.PauseFor(delay)
			}
			return resp, nil
		}

		if delay <= 0 {
			delay = defaultThrottlePause
		}
		t.Limiter.ObserveThrottle(delay)

		if attempt >= attempts || !replayable(req) {
			drain(resp)
			return nil, &ThrottledError{URL: req.URL.String(), RetryAfter: delay, Attempts: attempt}
		}
		drain(resp)

		next := req.Clone(req.Context())
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("rewind request body: %w", err)
			}
			next.Body = body
		}
		current = next
	}
}

func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

// throttleDelay extracts the advised pause from a response. The boolean is
// true when the response signals throttling (429 or exhausted quota).
func throttleDelay(resp *http.Response, now time.Time) (time.Duration, bool) {
	throttled := resp.StatusCode == http.StatusTooManyRequests
	if strings.TrimSpace(resp.Header.Get("X-RateLimit-Remaining")) == "0" {
		throttled = true
	}
	if !throttled {
		return 0, false
	}
	if d, ok := ParseRetryAfter(resp.Header.Get("Retry-After"), now); ok {
		return d, true
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("X-RateLimit-Reset"))); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second, true
	}
	return 0, true
}

// ParseRetryAfter understands both delta-seconds and HTTP-date forms.
func ParseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
