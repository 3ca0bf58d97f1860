package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Match-server/internal/obslog"
)

// RemoteVerifier asks an account service who owns a token. The service answers
// GET <url> with {"username": "..."} (or "identity") for valid tokens and 401/403
// otherwise.
type RemoteVerifier struct {
	url  string
	http *fasthttp.Client

	timeout  time.Duration
	retryMax int
}

type RemoteOption func(*RemoteVerifier)

func WithRemoteTimeout(d time.Duration) RemoteOption {
	return func(v *RemoteVerifier) { v.timeout = d }
}

func WithRemoteRetry(max int) RemoteOption {
	return func(v *RemoteVerifier) { v.retryMax = max }
}

func NewRemoteVerifier(url string, opts ...RemoteOption) *RemoteVerifier {
	v := &RemoteVerifier{
		url:      strings.TrimRight(url, "/"),
		http:     &fasthttp.Client{ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second, MaxConnsPerHost: 64},
		timeout:  3 * time.Second,
		retryMax: 3,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

type remoteIdentity struct {
	Username string `json:"username"`
	Identity string `json:"identity"`
}

func (v *RemoteVerifier) Verify(ctx context.Context, r *http.Request) (string, error) {
	raw := Token(r)
	if raw == "" {
		return "", ErrUnauthenticated
	}
	return v.Lookup(ctx, raw)
}

// Lookup resolves a raw token. Transport errors and 5xx answers are retried with backoff.
func (v *RemoteVerifier) Lookup(ctx context.Context, token string) (string, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()
	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(v.url)
	req.Header.Set("Authorization", "Bearer "+token)

	attempts := max(v.retryMax, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := v.http.DoDeadline(req, resp, v.deadline(ctx))
		switch {
		case err != nil:
			lastErr = fmt.Errorf("identity request: %w", err)
		case resp.StatusCode() == fasthttp.StatusUnauthorized || resp.StatusCode() == fasthttp.StatusForbidden:
			return "", ErrUnauthenticated
		case resp.StatusCode() >= 500:
			lastErr = fmt.Errorf("identity service status=%d", resp.StatusCode())
		case resp.StatusCode() < 200 || resp.StatusCode() >= 300:
			return "", fmt.Errorf("identity service status=%d", resp.StatusCode())
		default:
			var out remoteIdentity
			if err := json.Unmarshal(resp.Body(), &out); err != nil {
				return "", fmt.Errorf("decode identity: %w", err)
			}
			id := strings.TrimSpace(out.Identity)
			if id == "" {
				id = strings.TrimSpace(out.Username)
			}
			if id == "" {
				return "", ErrUnauthenticated
			}
			return id, nil
		}
		if attempt == attempts {
			break
		}
		obslog.L().Warn("identity_remote_retry", zap.Int("attempt", attempt), zap.Error(lastErr))
		if err := sleepWithContext(ctx, backoffDuration(attempt)); err != nil {
			return "", lastErr
		}
	}
	return "", lastErr
}

func (v *RemoteVerifier) deadline(ctx context.Context) time.Time {
	own := time.Now().Add(v.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(own) {
		return dl
	}
	return own
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// 100ms, 200ms, 400ms ... capped at 3.2s
func backoffDuration(attempt int) time.Duration {
	attempt = min(max(attempt, 1), 6)
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}
