// Package firecracker implements hypervisor.Driver over Firecracker's
// HTTP-over-Unix-socket API: PUT /machine-config, /boot-source,
// /drives/rootfs, /network-interfaces/eth0, then /actions{InstanceStart}.
package firecracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const requestTimeout = 30 * time.Second

// apiError carries the HTTP status code from a Firecracker API response.
type apiError struct {
	Code    int
	Message string
}

func (e *apiError) Error() string { return e.Message }

// newSocketClient creates an HTTP client that dials a Unix domain socket.
func newSocketClient(socketPath string) *http.Client {
	return &http.Client{
		Timeout: requestTimeout,
		Transport: &http.Transport{
			DisableKeepAlives: true,
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
	}
}

// doPUT sends a PUT request over a Unix socket with a JSON body (or no
// body when payload is nil) and expects 2xx.
func doPUT(ctx context.Context, socketPath, path string, payload any) error {
	client := newSocketClient(socketPath)

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s body: %w", path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, "http://localhost"+path, body)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("PUT %s: %w", path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		rb, _ := io.ReadAll(resp.Body)
		return &apiError{Code: resp.StatusCode, Message: fmt.Sprintf("PUT %s -> %d: %s", path, resp.StatusCode, rb)}
	}
	return nil
}

// doGET issues a GET over the Unix socket and expects 2xx. Used by the
// service-tier warm check to confirm the API is actually answering
// requests, not just accepting connections.
func doGET(ctx context.Context, socketPath, path string) error {
	client := newSocketClient(socketPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://localhost"+path, nil)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		rb, _ := io.ReadAll(resp.Body)
		return &apiError{Code: resp.StatusCode, Message: fmt.Sprintf("GET %s -> %d: %s", path, resp.StatusCode, rb)}
	}
	return nil
}

// checkSocket verifies that a Unix domain socket is connectable.
func checkSocket(socketPath string) error {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return err
	}
	return conn.Close()
}
