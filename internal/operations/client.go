// Package operations вызывает внешний исполнитель платных операций.
package operations

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrUpstream исполнитель ответил ошибкой.
var ErrUpstream = errors.New("upstream execution failed")

type Client struct {
	baseURL    string
	httpClient *http.Client
}

type executeRequest struct {
	UserID  string          `json:"user_id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewClient создаёт клиент исполнителя.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// Execute выполняет операцию и возвращает её JSON-результат как есть.
func (c *Client) Execute(ctx context.Context, operation, userID string, payload json.RawMessage) (json.RawMessage, error) {
	const op = "operations.Execute"
	req, err := c.newRequest(ctx, http.MethodPost, "/"+url.PathEscape(operation), executeRequest{UserID: userID, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %w: status %s", op, ErrUpstream, resp.Status)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%s: %w: invalid JSON result", op, ErrUpstream)
	}
	return body, nil
}
