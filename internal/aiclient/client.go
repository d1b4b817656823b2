// Package aiclient calls the upstream chat completion API.
package aiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// maxResponseBytes bounds how much of an upstream reply is read.
const maxResponseBytes = 8 << 20

var (
	// ErrTimeout is returned when the upstream call exceeds the client timeout.
	ErrTimeout = errors.New("upstream request timed out")

	ErrResponseTooLarge = errors.New("upstream response too large")
)

// APIError is a non-200 answer from the upstream API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream API returned status %d", e.Status)
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model   string         `json:"model"`
	Request requestPayload `json:"request"`
}

type requestPayload struct {
	Messages []Message `json:"messages"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type Client struct {
	httpClient *http.Client
	url        string
	apiKey     string
	timeout    time.Duration
	maxBytes   int64
}

func NewClient(url, apiKey string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{},
		url:        url,
		apiKey:     apiKey,
		timeout:    timeout,
		maxBytes:   maxResponseBytes,
	}
}

// Complete sends the conversation to the model and returns the reply text.
func (c *Client) Complete(ctx context.Context, modelID string, messages []Message) (string, error) {
	body, err := json.Marshal(completionRequest{
		Model:   modelID,
		Request: requestPayload{Messages: messages},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			log.Warn().Str("model", modelID).Dur("timeout", c.timeout).Msg("aiclient: request timed out")
			return "", ErrTimeout
		}
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", ErrTimeout
		}
		return "", fmt.Errorf("read response: %w", err)
	}
	if int64(len(respBody)) > c.maxBytes {
		log.Warn().Str("model", modelID).Int64("limit", c.maxBytes).Msg("aiclient: response exceeds size limit")
		return "", ErrResponseTooLarge
	}

	log.Debug().
		Str("model", modelID).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("aiclient: response received")

	if resp.StatusCode != http.StatusOK {
		return "", &APIError{Status: resp.StatusCode, Body: truncate(string(respBody), 500)}
	}

	var parsed completionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("upstream response has no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
