// Package executor adapts the external sandbox service that runs agent logic
// in isolation. The hub treats it as an opaque capability provider: hand it
// an agent id and a JSON input, get back stdout JSON, an exit code, and a
// duration.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Invocation is one completed (or attempted) sandbox execution.
type Invocation struct {
	ID         string                 `json:"invocationId"`
	Output     map[string]interface{} `json:"output"`
	ExitCode   int                    `json:"exitCode"`
	DurationMs int64                  `json:"durationMs"`
}

// Client runs agents in the sandbox.
type Client interface {
	// Invoke executes the agent with the resolved input and waits for the
	// result. Sandbox cold starts can take tens of seconds, so callers pass
	// a context with an appropriate deadline.
	Invoke(ctx context.Context, agentID string, input map[string]interface{}) (*Invocation, error)

	// Terminate asks the sandbox to stop an in-flight invocation.
	// Best-effort: the sandbox may not honor it promptly or at all.
	Terminate(ctx context.Context, invocationID string) error
}

// HTTPClient talks to the sandbox service over HTTP.
type HTTPClient struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

// NewHTTPClient creates an HTTPClient. timeout bounds a single invocation;
// zero means 120s.
func NewHTTPClient(url string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPClient{
		url:     url,
		timeout: timeout,
		client:  &http.Client{},
	}
}

// Invoke posts the agent invocation and decodes the sandbox response.
func (c *HTTPClient) Invoke(ctx context.Context, agentID string, input map[string]interface{}) (*Invocation, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	requestBody, err := json.Marshal(map[string]interface{}{
		"agentId": agentID,
		"input":   input,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal invocation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/invoke", bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sandbox request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sandbox returned status %d", resp.StatusCode)
	}

	var inv Invocation
	if err := json.NewDecoder(resp.Body).Decode(&inv); err != nil {
		return nil, fmt.Errorf("failed to decode sandbox response: %w", err)
	}
	return &inv, nil
}

// Terminate issues a best-effort stop for an in-flight invocation.
func (c *HTTPClient) Terminate(ctx context.Context, invocationID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.url+"/invocations/"+invocationID, nil)
	if err != nil {
		return fmt.Errorf("failed to create termination request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("termination request failed: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sandbox returned status %d for termination", resp.StatusCode)
	}
	return nil
}
