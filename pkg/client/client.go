package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dij0s/eXPOSE/internal/types"
)

// Client talks to the fleet backend REST API and to the simulator control API
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithToken sets the bearer token sent with administrative commands
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the default 10s-timeout client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a new fleet API client
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BanError is returned when the backend refuses a ban
type BanError struct {
	StatusCode int
	Message    string
}

func (e *BanError) Error() string {
	return fmt.Sprintf("ban rejected (%d): %s", e.StatusCode, e.Message)
}

// Status polls GET /api/status. Any 2xx is healthy; everything else,
// including transport failures, is returned as an error.
func (c *Client) Status(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/status", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unhealthy: status code %d", resp.StatusCode)
	}
	return nil
}

// Ban sends POST /api/ban and returns how long the agent is suppressed.
// It never retries.
func (c *Client) Ban(ctx context.Context, agent string) (time.Duration, error) {
	data, err := json.Marshal(types.BanRequest{Agent: agent})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/ban", bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("ban %s: %w", agent, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	var out types.BanResponse
	decodeErr := json.Unmarshal(body, &out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 || out.Error != "" {
		msg := out.Error
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return 0, &BanError{StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return 0, fmt.Errorf("decode ban response: %w", decodeErr)
	}

	return time.Duration(out.BanTimeout) * time.Millisecond, nil
}

// SimulationStatus is the simulator control API status payload
type SimulationStatus struct {
	Running       bool   `json:"running"`
	Agents        int    `json:"agents"`
	ActiveClients int    `json:"activeClients"`
	EventsSent    int64  `json:"eventsSent"`
	Uptime        string `json:"uptime"`
}

// SimulationStatus retrieves the simulator status
func (c *Client) SimulationStatus(ctx context.Context) (*SimulationStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/control/status", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body))
	}

	var status SimulationStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Start starts the simulated mission
func (c *Client) Start(ctx context.Context) error {
	return c.control(ctx, "start")
}

// Stop stops the simulated mission
func (c *Client) Stop(ctx context.Context) error {
	return c.control(ctx, "stop")
}

func (c *Client) control(ctx context.Context, action string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/control/"+action, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to %s simulation: %s", action, string(body))
	}
	return nil
}

// Health checks if the service is healthy
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status code %d", resp.StatusCode)
	}
	return nil
}
