// Package remote calls the sibling student, examination and booking services
// on behalf of standard-channel jobs.
package remote

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/khachaneojas/service-scheduler/internal/circuitbreaker"
)

const (
	HeaderJobID     = "X-Scheduler-Job-ID"
	HeaderTimestamp = "X-Scheduler-Timestamp"
	HeaderSignature = "X-Scheduler-Signature"

	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 4 << 20
)

// MetricsSink records sibling service calls. statusCode is 0 and err is
// set when no response arrived.
type MetricsSink interface {
	RemoteCallCompleted(service string, statusCode int, err error, d time.Duration)
}

type Request struct {
	Service string // breaker and metrics key
	Method  string
	URL     string
	JobID   int64
	Body    []byte
}

type Response struct {
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// StatusError is returned for any non-2xx reply.
type StatusError struct {
	Service    string
	Method     string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Service, e.Method, e.StatusCode)
}

// Client signs every request with HMAC-SHA256 over method, path, timestamp
// and body.
type Client struct {
	client  *http.Client
	secret  string
	timeout time.Duration
	breaker *circuitbreaker.CircuitBreaker
	metrics MetricsSink
	clock   func() time.Time
}

func NewClient(secret string) *Client {
	return &Client{
		client:  &http.Client{},
		secret:  secret,
		timeout: defaultTimeout,
		clock:   time.Now,
	}
}

func (c *Client) WithTimeout(d time.Duration) *Client {
	if d > 0 {
		c.timeout = d
	}
	return c
}

func (c *Client) WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) *Client {
	c.breaker = cb
	return c
}

func (c *Client) WithMetrics(m MetricsSink) *Client {
	c.metrics = m
	return c
}

func (c *Client) WithClock(clock func() time.Time) *Client {
	c.clock = clock
	return c
}

// Do sends req. Transport failures and non-2xx replies both count against
// the service's circuit breaker.
func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	var resp Response
	call := func() error {
		var err error
		resp, err = c.send(ctx, req)
		return err
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Do(req.Service, call)
	} else {
		err = call()
	}

	if c.metrics != nil {
		var callErr error
		if resp.StatusCode == 0 {
			callErr = err
		}
		c.metrics.RemoteCallCompleted(req.Service, resp.StatusCode, callErr, resp.Duration)
	}
	return resp, err
}

func (c *Client) send(ctx context.Context, req Request) (Response, error) {
	start := time.Now()

	ctxTimeout, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u, err := url.Parse(req.URL)
	if err != nil {
		return Response{Duration: time.Since(start)}, fmt.Errorf("parse url: %w", err)
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctxTimeout, req.Method, u.String(), body)
	if err != nil {
		return Response{Duration: time.Since(start)}, fmt.Errorf("create request: %w", err)
	}

	ts := strconv.FormatInt(c.clock().Unix(), 10)
	httpReq.Header.Set("Accept", "application/json")
	if len(req.Body) > 0 {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set(HeaderJobID, strconv.FormatInt(req.JobID, 10))
	httpReq.Header.Set(HeaderTimestamp, ts)
	httpReq.Header.Set(HeaderSignature, computeSignature(c.secret, req.Method, u.EscapedPath(), ts, req.Body))

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return Response{Duration: time.Since(start)}, fmt.Errorf("send: %w", err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	resp := Response{StatusCode: httpResp.StatusCode, Body: data, Duration: time.Since(start)}
	if err != nil {
		return resp, fmt.Errorf("read body: %w", err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return resp, &StatusError{Service: req.Service, Method: req.Method, StatusCode: httpResp.StatusCode}
	}
	return resp, nil
}

func computeSignature(secret, method, path, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(method + "\n" + path + "\n" + timestamp + "\n"))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature lets the sibling services check an incoming call.
func VerifySignature(secret, method, path, timestamp string, body []byte, signature string) bool {
	expected := computeSignature(secret, method, path, timestamp, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
