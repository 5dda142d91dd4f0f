package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/ipflow/relay/event"
	"github.com/ipflow/relay/signature"
)

const (
	// DefaultMaxResponseBody caps how much of a response body is kept.
	DefaultMaxResponseBody = 1024

	// UserAgent identifies outbound webhook requests.
	UserAgent = "ipflow-relay/1.0"
)

// Result is the outcome of a single HTTP attempt.
type Result struct {
	StatusCode int
	Response   string
	Duration   time.Duration
	Error      string
}

// Success reports whether a response arrived with a 2xx status. A body
// that fails to read afterwards does not change that; Error then carries
// the read failure for the record.
func (r Result) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Sender performs HTTP webhook delivery.
type Sender struct {
	client  *http.Client
	maxBody int64
}

// NewSender creates a sender. A nil client gets a fresh http.Client; the
// deadline comes from the timeout passed to Send, not the client.
func NewSender(client *http.Client, maxBody int) *Sender {
	if client == nil {
		client = &http.Client{}
	}
	if maxBody <= 0 {
		maxBody = DefaultMaxResponseBody
	}
	return &Sender{client: client, maxBody: int64(maxBody)}
}

// Send posts the sealed envelope to url, signed with secret, and gives up
// after timeout.
func (s *Sender) Send(ctx context.Context, url string, env *event.Sealed, secret string, timeout time.Duration) Result {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(env.Body))
	if err != nil {
		return Result{Error: fmt.Sprintf("create request: %v", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set(signature.HeaderSignature, signature.Sign(env.Body, secret))
	req.Header.Set(signature.HeaderEvent, env.Event)
	req.Header.Set(signature.HeaderTimestamp, env.Timestamp)

	start := time.Now()
	resp, err := s.client.Do(req) //nolint:gosec // G704: URL is a tenant-configured webhook destination.
	if err != nil {
		return Result{Error: describe(err, timeout), Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, s.maxBody))
	res := Result{
		StatusCode: resp.StatusCode,
		Response:   string(body),
		Duration:   time.Since(start),
	}

	switch {
	case readErr != nil:
		res.Error = "read response: " + describe(readErr, timeout)
	case !res.Success():
		res.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}
	return res
}

func describe(err error, timeout time.Duration) string {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Sprintf("timeout after %s", timeout)
	}
	return err.Error()
}
