package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Client talks to the acoremgr daemon HTTP API.
type Client struct {
	baseURL  string
	client   *http.Client
	logger   *slog.Logger
	username string
	password string
	token    string
}

// DefaultBaseURL matches the daemon's default listen address and base path.
const DefaultBaseURL = "http://127.0.0.1:7878/api"

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
	// Credentials for a daemon with auth enabled. Token wins over
	// Username/Password.
	Username string
	Password string
	Token    string
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	Enabled    bool   // Enable TLS
	CACert     string // CA certificate file path
	ClientCert string // Client certificate file
	ClientKey  string // Client private key file
	ServerName string // Server name for verification
	SkipVerify bool   // Skip certificate verification
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: DefaultBaseURL,
		Timeout: 10 * time.Second,
	}
}

// DefaultTLSConfig returns default TLS client configuration
func DefaultTLSConfig() Config {
	return Config{
		BaseURL: "https://127.0.0.1:7878/api",
		Timeout: 10 * time.Second,
		TLS: &TLSClientConfig{
			Enabled: true,
		},
	}
}

// InsecureConfig returns insecure client configuration (skip TLS verification)
func InsecureConfig() Config {
	return Config{
		BaseURL:  "https://127.0.0.1:7878/api",
		Timeout:  10 * time.Second,
		Insecure: true,
	}
}

// New creates an API client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	// Setup HTTP transport with TLS configuration
	transport := &http.Transport{}

	// Configure TLS if needed
	if config.TLS != nil && config.TLS.Enabled || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}

	return &Client{
		baseURL:  config.BaseURL,
		logger:   config.Logger,
		username: config.Username,
		password: config.Password,
		token:    config.Token,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/status", nil)
	if err != nil {
		c.logger.Debug("Failed to create request for reachability check", "error", err)
		return false
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	isReachable := resp.StatusCode != http.StatusNotFound
	c.logger.Debug("Daemon reachability check", "reachable", isReachable, "status", resp.StatusCode)
	return isReachable
}

// Start starts the server of role ("world" or "auth").
func (c *Client) Start(ctx context.Context, role string) error {
	return c.lifecycle(ctx, role, "start")
}

// Stop asks the server to shut down; the auth server is killed.
func (c *Client) Stop(ctx context.Context, role string) error {
	return c.lifecycle(ctx, role, "stop")
}

// Kill terminates the server immediately.
func (c *Client) Kill(ctx context.Context, role string) error {
	return c.lifecycle(ctx, role, "kill")
}

func (c *Client) lifecycle(ctx context.Context, role, op string) error {
	c.logger.Debug("Server lifecycle request", "role", role, "op", op)
	return c.do(ctx, http.MethodPost, c.serverURL(role, op), nil, nil)
}

// Restart asks the world server to restart after delay. A nil exitCode uses
// the daemon's configured restart code.
func (c *Client) Restart(ctx context.Context, role string, req RestartRequest) error {
	return c.do(ctx, http.MethodPost, c.serverURL(role, "restart"), req, nil)
}

// SendCommand writes one console command to the server.
func (c *Client) SendCommand(ctx context.Context, role, command string) error {
	return c.do(ctx, http.MethodPost, c.serverURL(role, "command"), CommandRequest{Command: command}, nil)
}

// Status returns every server's state.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var out StatusResponse
	err := c.do(ctx, http.MethodGet, c.baseURL+"/status", nil, &out)
	return out, err
}

// Resources returns the latest sample per role.
func (c *Client) Resources(ctx context.Context) (map[string]ResourceSample, error) {
	out := map[string]ResourceSample{}
	err := c.do(ctx, http.MethodGet, c.baseURL+"/resources", nil, &out)
	return out, err
}

// Dashboard returns the latest realm figures.
func (c *Client) Dashboard(ctx context.Context) (DashboardStats, error) {
	var out DashboardStats
	err := c.do(ctx, http.MethodGet, c.baseURL+"/dashboard", nil, &out)
	return out, err
}

// History returns recent lifecycle events, newest first. role may be empty.
func (c *Client) History(ctx context.Context, role string, limit int) ([]HistoryEvent, error) {
	q := url.Values{}
	if role != "" {
		q.Set("role", role)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	u := c.baseURL + "/history"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var out []HistoryEvent
	err := c.do(ctx, http.MethodGet, u, nil, &out)
	return out, err
}

// CronJobs lists the scheduled maintenance jobs.
func (c *Client) CronJobs(ctx context.Context) ([]CronJob, error) {
	var out []CronJob
	err := c.do(ctx, http.MethodGet, c.baseURL+"/cronjobs", nil, &out)
	return out, err
}

// RunCronJob runs a scheduled job immediately.
func (c *Client) RunCronJob(ctx context.Context, name string) (CronJob, error) {
	var out CronJob
	err := c.do(ctx, http.MethodPost, c.baseURL+"/cronjobs/"+url.PathEscape(name)+"/run", nil, &out)
	return out, err
}

// Settings returns the daemon's settings as raw JSON.
func (c *Client) Settings(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodGet, c.baseURL+"/settings", nil, &out)
	return out, err
}

// Login exchanges username and password for a bearer token. Later requests
// of c use the token.
func (c *Client) Login(ctx context.Context, username, password string) (Token, error) {
	var res LoginResponse
	req := LoginRequest{Method: "basic", Username: username, Password: password}
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/auth/login", req, &res); err != nil {
		return Token{}, err
	}
	if res.Token == nil {
		return Token{}, fmt.Errorf("login response without token")
	}
	c.token = res.Token.Value
	return *res.Token, nil
}

func (c *Client) authorize(req *http.Request) {
	switch {
	case c.token != "":
		req.Header.Set("Authorization", "Bearer "+c.token)
	case c.username != "":
		req.SetBasicAuth(c.username, c.password)
	}
}

func (c *Client) serverURL(role, op string) string {
	return c.baseURL + "/servers/" + url.PathEscape(role) + "/" + op
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{}

	// Handle insecure mode (skip verification)
	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}

	// Configure TLS settings
	if config.TLS != nil {
		// Skip verification if requested
		if config.TLS.SkipVerify {
			tlsConfig.InsecureSkipVerify = true
		}

		// Set server name for verification
		if config.TLS.ServerName != "" {
			tlsConfig.ServerName = config.TLS.ServerName
		}

		// Load CA certificate if provided
		if config.TLS.CACert != "" {
			if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
				return nil, fmt.Errorf("failed to load CA certificate: %w", err)
			}
		}

		// Load client certificate if provided
		if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
			cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("failed to load client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
	}

	return tlsConfig, nil
}

// loadCACert loads CA certificate from file and adds it to TLS config
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}

	tlsConfig.RootCAs = caCertPool
	return nil
}

// do sends body as JSON (when non-nil) and decodes the response into out
// (when non-nil).
func (c *Client) do(ctx context.Context, method, url string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "url", url)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.handleErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse turns an error response into *APIError.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		c.logger.Debug("Failed to decode error response", "status", resp.StatusCode)
		return &APIError{StatusCode: resp.StatusCode}
	}
	c.logger.Debug("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return &APIError{StatusCode: resp.StatusCode, Message: errorResp.Error}
}
