package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/shoplens/stylist/internal/domain"
)

var (
	errAgentStatus = errors.New("agent returned non-OK status")
	errEmptyBody   = errors.New("agent returned empty response body")
)

// Client is the boundary to the remote shopping agent. Implementations are
// assumed correct; the orchestration core never inspects transport details.
type Client interface {
	// SendTurn submits one conversation turn. sessionID is empty on the
	// first turn; the agent issues one in the response.
	SendTurn(ctx context.Context, message, sessionID, imageURL string) (*TurnResponse, error)

	// CheckStatus fetches the current answer for a tracked operation.
	// Used only while a pending operation exists.
	CheckStatus(ctx context.Context, kind domain.OperationKind, id int64, sessionID string) (*AgentMessage, error)

	// RequestFitting starts a virtual fitting job for a product.
	RequestFitting(ctx context.Context, productID int64, userImageURL string) (*FittingJob, error)

	// FittingStatus fetches one progress observation for a fitting job.
	FittingStatus(ctx context.Context, fittingID int64) (*FittingStatus, error)

	// FittingResult fetches the terminal artifact of a finished fitting job.
	FittingResult(ctx context.Context, fittingID int64) (*FittingResult, error)

	// Close releases client resources.
	Close()
}

// HTTPClientConfig holds configuration for the HTTP agent client.
type HTTPClientConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
}

// DefaultHTTPClientConfig returns default configuration.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		BaseURL:        getEnv("AGENT_BASE_URL", "http://localhost:8600"),
		RequestTimeout: 30 * time.Second,
	}
}

// HTTPClient talks JSON over HTTP to the agent service.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewHTTPClient creates a client for the agent service at baseURL. An empty
// baseURL falls back to AGENT_BASE_URL. No network I/O happens here.
func NewHTTPClient(baseURL string, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := DefaultHTTPClientConfig()
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &HTTPClient{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		baseURL:    cfg.BaseURL,
		logger:     logger,
	}
}

// Health checks whether the agent service is reachable.
func (c *HTTPClient) Health(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.getJSON(ctx, "/v1/health", &out); err != nil {
		return fmt.Errorf("agent health check: %w", err)
	}
	return nil
}

// SendTurn submits one conversation turn.
func (c *HTTPClient) SendTurn(ctx context.Context, message, sessionID, imageURL string) (*TurnResponse, error) {
	body := map[string]string{"message": message}
	if sessionID != "" {
		body["session_id"] = sessionID
	}
	if imageURL != "" {
		body["image_url"] = imageURL
	}

	var out TurnResponse
	if err := c.postJSON(ctx, "/v1/turns", body, &out); err != nil {
		return nil, fmt.Errorf("send turn: %w", err)
	}
	return &out, nil
}

// CheckStatus fetches the current answer for a tracked operation.
func (c *HTTPClient) CheckStatus(ctx context.Context, kind domain.OperationKind, id int64, sessionID string) (*AgentMessage, error) {
	query := url.Values{"session_id": {sessionID}}
	path := fmt.Sprintf("/v1/operations/%s/%d?%s", kind, id, query.Encode())

	var out AgentMessage
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, fmt.Errorf("check %s status for operation %d: %w", kind, id, err)
	}
	return &out, nil
}

// RequestFitting starts a virtual fitting job.
func (c *HTTPClient) RequestFitting(ctx context.Context, productID int64, userImageURL string) (*FittingJob, error) {
	body := map[string]any{
		"product_id":     productID,
		"user_image_url": userImageURL,
	}

	var out FittingJob
	if err := c.postJSON(ctx, "/v1/fittings", body, &out); err != nil {
		return nil, fmt.Errorf("request fitting for product %d: %w", productID, err)
	}
	return &out, nil
}

// FittingStatus fetches one progress observation for a fitting job.
func (c *HTTPClient) FittingStatus(ctx context.Context, fittingID int64) (*FittingStatus, error) {
	var out FittingStatus
	if err := c.getJSON(ctx, fmt.Sprintf("/v1/fittings/%d/status", fittingID), &out); err != nil {
		return nil, fmt.Errorf("fitting %d status: %w", fittingID, err)
	}
	return &out, nil
}

// FittingResult fetches the terminal artifact of a finished fitting job.
func (c *HTTPClient) FittingResult(ctx context.Context, fittingID int64) (*FittingResult, error) {
	var out FittingResult
	if err := c.getJSON(ctx, fmt.Sprintf("/v1/fittings/%d/result", fittingID), &out); err != nil {
		return nil, fmt.Errorf("fitting %d result: %w", fittingID, err)
	}
	return &out, nil
}

// Close releases client resources.
func (c *HTTPClient) Close() {
	c.httpClient.CloseIdleConnections()
}

func (c *HTTPClient) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *HTTPClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close agent response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Surface a short slice of the body for diagnosis; never shown
		// to end users.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %d %s", errAgentStatus, resp.StatusCode, string(snippet))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return fmt.Errorf("decode agent response: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

var _ Client = (*HTTPClient)(nil)
