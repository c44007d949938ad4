package vmactor

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coldstart-systems/coldstart/lib/clock"
)

// healthChecker probes a booted guest's /health endpoint. Implementations
// must treat connection errors and 5xx as retryable; Boot retries on any
// non-200 status with the same backoff.
type healthChecker interface {
	Check(ctx context.Context, ip string, port int) error
}

// httpHealthChecker is the production healthChecker: a single GET against
// http://ip:port/health with a short per-request timeout.
type httpHealthChecker struct {
	client *http.Client
}

func newHTTPHealthChecker() *httpHealthChecker {
	return &httpHealthChecker{client: &http.Client{Timeout: 2 * time.Second}}
}

func (h *httpHealthChecker) Check(ctx context.Context, ip string, port int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://%s:%d/health", ip, port), nil)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check: status %d", resp.StatusCode)
	}
	return nil
}

// pollHealth polls checker until it reports healthy, the timeout elapses,
// or ctx is cancelled, waiting interval between attempts (the Actor's
// default is 200ms). Any non-200 result, including connection errors and
// 5xx, is retried.
func pollHealth(ctx context.Context, clk clock.Clock, checker healthChecker, ip string, port int, timeout, interval time.Duration) error {
	deadline := clk.Now().Add(timeout)
	for {
		if err := checker.Check(ctx, ip, port); err == nil {
			return nil
		}
		if clk.Now().After(deadline) {
			return fmt.Errorf("health check timed out after %s", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clk.After(interval):
		}
	}
}
