package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/YuanQin2000/datax/internal/http1"
	"github.com/YuanQin2000/datax/internal/status"
)

// RetryPolicy defines the strategy for retrying fetches.
type RetryPolicy struct {
	// MaxRetries is the maximum number of retries after the initial attempt.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// BackoffFactor is the growth rate of the backoff (2.0 doubles it).
	BackoffFactor float64
	// Jitter randomizes each backoff between half and all of its value.
	Jitter bool
	// RetryableStatusCodes are retried for idempotent or replayable requests.
	RetryableStatusCodes map[int]bool
}

func NewDefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         true,
		RetryableStatusCodes: map[int]bool{
			http.StatusRequestTimeout:     true,
			http.StatusTooManyRequests:    true,
			http.StatusBadGateway:         true,
			http.StatusServiceUnavailable: true,
			http.StatusGatewayTimeout:     true,
		},
	}
}

// FetchRequest describes one synchronous fetch.
type FetchRequest struct {
	Method string
	URL    string
	Header map[string]string
	Body   []byte
}

// Result is the collected outcome of a fetch.
type Result struct {
	URL        string
	Status     int
	Reason     string
	Indication http1.Indication
	Header     http.Header
	Body       []byte
	Redirects  int
	Attempts   int
	Elapsed    time.Duration
}

// collector is the Handler behind Fetch.
type collector struct {
	result *Result
	body   bytes.Buffer
	limit  int64
	done   chan error
}

func (c *collector) OnHeader(req *Request, resp *Response) {
	c.result.URL = resp.URL.String()
	c.result.Status = resp.Status
	c.result.Reason = resp.Reason
	c.result.Indication = resp.Indication
	c.result.Header = make(http.Header)
	resp.Header.Visit(func(name, value string) {
		c.result.Header.Add(name, value)
	})
}

func (c *collector) OnData(req *Request, p []byte) {
	if c.limit > 0 && int64(c.body.Len())+int64(len(p)) > c.limit {
		return
	}
	c.body.Write(p)
}

func (c *collector) OnComplete(req *Request, err error) {
	c.done <- err
}

func (c *collector) OnRedirect(req *Request, from, to *url.URL, code int) {
	c.result.Redirects++
}

// Fetch runs one request to completion, retrying transient failures per
// policy. A nil policy selects NewDefaultRetryPolicy; retries are off when
// MaxRetries is 0. It must not be called on the loop thread.
func (s *Stack) Fetch(ctx context.Context, fr FetchRequest, policy *RetryPolicy) (*Result, error) {
	if policy == nil {
		policy = NewDefaultRetryPolicy()
	}
	method := fr.Method
	if method == "" {
		method = "GET"
	}
	start := time.Now()

	var res *Result
	var err error
	attempt := 0
	for {
		res, err = s.fetchOnce(ctx, method, fr)
		res.Attempts = attempt + 1
		res.Elapsed = time.Since(start)

		retry, retryAfter := shouldRetry(ctx, method, res, err, policy, attempt)
		if !retry {
			break
		}
		attempt++
		backoff := retryAfter
		if backoff == 0 {
			backoff = calculateBackoff(policy, attempt)
		}
		s.logger.Debug("retrying fetch",
			zap.Int("attempt", attempt), zap.Duration("backoff", backoff),
			zap.Int("status", res.Status), zap.Error(err))

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			if err == nil {
				err = ctx.Err()
			}
			return res, err
		}
	}
	return res, err
}

func (s *Stack) fetchOnce(ctx context.Context, method string, fr FetchRequest) (*Result, error) {
	res := &Result{URL: fr.URL}
	c := &collector{result: res, limit: s.opts.MaxDecodedBytes, done: make(chan error, 1)}
	req, err := s.NewRequest(method, fr.URL, c)
	if err != nil {
		return res, err
	}
	for name, value := range fr.Header {
		req.SetHeader(name, value)
	}
	if len(fr.Body) > 0 {
		req.SetBody(fr.Body)
	}
	if err := req.Start(ctx); err != nil {
		return res, err
	}
	select {
	case err = <-c.done:
	case <-ctx.Done():
		// The request still completes on the loop into the buffered
		// channel and keeps writing res.
		return &Result{URL: fr.URL}, ctx.Err()
	}
	res.Body = c.body.Bytes()
	return res, err
}

// shouldRetry determines if the fetch should be retried. attempt is the
// 0-based index of the attempt that just completed.
func shouldRetry(ctx context.Context, method string, res *Result, err error, policy *RetryPolicy, attempt int) (bool, time.Duration) {
	if attempt >= policy.MaxRetries || ctx.Err() != nil {
		return false, 0
	}
	if err != nil {
		switch status.Of(err) {
		case status.ConnectFailed, status.IOError, status.Inactive, status.ProtocolError:
			return true, 0
		}
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return true, 0
		}
		return false, 0
	}

	// Fetch bodies are in memory, so every method is replayable.
	if !policy.RetryableStatusCodes[res.Status] {
		return false, 0
	}
	if res.Status == http.StatusTooManyRequests || res.Status == http.StatusServiceUnavailable {
		if d, ok := retryAfter(res.Header.Get("Retry-After")); ok {
			return true, d
		}
	}
	return true, 0
}

// retryAfter parses delay-seconds or an HTTP-date.
func retryAfter(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second, true
	}
	if date, err := http.ParseTime(v); err == nil {
		if d := time.Until(date); d > 0 {
			return d, true
		}
	}
	return 0, false
}

// calculateBackoff determines the backoff before the attemptNum-th retry
// (1-based).
func calculateBackoff(policy *RetryPolicy, attemptNum int) time.Duration {
	backoff := float64(policy.InitialBackoff) * math.Pow(policy.BackoffFactor, float64(attemptNum-1))
	if backoff > float64(policy.MaxBackoff) || backoff <= 0 {
		if policy.MaxBackoff <= 0 {
			return policy.InitialBackoff
		}
		backoff = float64(policy.MaxBackoff)
	}
	duration := time.Duration(backoff)
	if policy.Jitter && duration > 0 {
		duration = time.Duration(float64(duration) * (0.5 + rand.Float64()*0.5))
	}
	return duration
}

// String renders a short status line for logs.
func (r *Result) String() string {
	return fmt.Sprintf("%d %s (%s, %d bytes)", r.Status, r.Reason, r.URL, len(r.Body))
}
