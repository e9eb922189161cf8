package grading

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pavelanni/cogbattery/internal/model"
)

// GatewayError is a non-success gateway response. Error returns the
// gateway's message verbatim.
type GatewayError struct {
	StatusCode int
	Message    string
}

func (e *GatewayError) Error() string {
	return e.Message
}

// Client calls a remote grading gateway over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a gateway client for baseURL (the path /api/grade is appended).
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Grade submits one writing task. The caller is responsible for skipping
// blank texts.
func (c *Client) Grade(ctx context.Context, req model.GradingRequest) (*model.GradingOutcome, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal grading request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/grade", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build grading request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("grading gateway: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read grading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(raw, &e); err != nil || e.Error == "" {
			return nil, &GatewayError{
				StatusCode: resp.StatusCode,
				Message:    fmt.Sprintf("Failed to grade %s writing", req.Type),
			}
		}
		return nil, &GatewayError{StatusCode: resp.StatusCode, Message: e.Error}
	}

	return Validate(req.Type, raw)
}
