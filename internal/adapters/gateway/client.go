package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/domain"
)

const DefaultBaseURL = "https://api.tosspayments.com"

const maxResponseBytes = 1 << 20

type Config struct {
	BaseURL   string
	SecretKey string
	Timeout   time.Duration
}

// client is the shared transport for both gateway APIs. Requests are sent once.
type client struct {
	baseURL    string
	authHeader string
	http       *http.Client
}

func newClient(cfg Config, httpClient *http.Client) (*client, error) {
	secret := strings.TrimSpace(cfg.SecretKey)
	if secret == "" {
		return nil, fmt.Errorf("gateway secret key is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &client{
		baseURL:    baseURL,
		authHeader: "Basic " + base64.StdEncoding.EncodeToString([]byte(secret+":")),
		http:       httpClient,
	}, nil
}

type rawResponse struct {
	StatusCode int
	Body       []byte
}

func (c *client) do(ctx context.Context, method, path, contentType string, body []byte, headers map[string]string) (rawResponse, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return rawResponse{}, fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Authorization", c.authHeader)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return rawResponse{}, fmt.Errorf("%w: %s %s: %v", domain.ErrDependencyUnavailable, method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return rawResponse{}, fmt.Errorf("%w: read %s: %v", domain.ErrDependencyUnavailable, path, err)
	}
	return rawResponse{StatusCode: resp.StatusCode, Body: raw}, nil
}

func (c *client) postJSON(ctx context.Context, path string, in any) (rawResponse, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return rawResponse{}, fmt.Errorf("encode gateway request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, "application/json", body, nil)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// rejection turns a non-2xx response into a GatewayError, keeping the gateway's
// code and message unchanged. Server errors are reported as unavailable.
func rejection(statusCode int, body []byte) error {
	var parsed errorBody
	_ = json.Unmarshal(body, &parsed)
	if parsed.Message == "" {
		parsed.Message = strings.TrimSpace(string(body))
	}
	gwErr := &domain.GatewayError{StatusCode: statusCode, Code: parsed.Code, Message: parsed.Message}
	if statusCode >= http.StatusInternalServerError && parsed.Code == "" {
		return fmt.Errorf("%w: %v", domain.ErrDependencyUnavailable, gwErr)
	}
	return gwErr
}

func success(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
