package cloudhypervisor

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const requestTimeout = 30 * time.Second

type apiError struct {
	Code    int
	Message string
}

func (e *apiError) Error() string { return e.Message }

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

func doPUT(ctx context.Context, socketPath, path string) error {
	client := newSocketClient(socketPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, "http://localhost"+path, nil)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
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

// shutdownVM asks Cloud Hypervisor to shut down the guest, flushing disk
// backends before the process is terminated.
func shutdownVM(ctx context.Context, socketPath string) error {
	return doPUT(ctx, socketPath, "/api/v1/vm.shutdown")
}

func checkSocket(socketPath string) error {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return err
	}
	return conn.Close()
}
