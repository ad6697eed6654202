package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/adam-mcguinness/sup-linux/internal/protocol"
)

// ErrServiceUnavailable marks failures to reach the service at all, as
// opposed to answers the service chose to give.
var ErrServiceUnavailable = errors.New("embedding service unavailable")

// Client talks to the embedding service over its unix socket. The host
// in request URLs is a placeholder; the dialer ignores it.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient dials the unix socket at socketPath. A zero timeout leaves
// the per-request context as the only bound.
func NewClient(socketPath string, timeout time.Duration) *Client {
	dialer := &net.Dialer{}
	return &Client{
		baseURL: "http://sup-linux",
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					return dialer.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

// RequestEmbedding posts one challenge and decodes the service's answer.
func (c *Client) RequestEmbedding(ctx context.Context, req protocol.EmbeddingRequest) (*protocol.EmbeddingResponse, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+protocol.RouteEmbedding, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var resp protocol.EmbeddingResponse
	if err := c.do(httpReq, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health checks that the service is up.
func (c *Client) Health(ctx context.Context) (*protocol.HealthResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+protocol.RouteHealth, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var resp protocol.HealthResponse
	if err := c.do(httpReq, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Info fetches service diagnostics.
func (c *Client) Info(ctx context.Context) (*protocol.InfoResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+protocol.RouteInfo, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var resp protocol.InfoResponse
	if err := c.do(httpReq, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, protocol.MaxBodyBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
