// Package sieve calls the external compression service that rewrites a
// prompt to a shorter form preserving the task request. The service is
// best-effort: callers fall back to the original text on any failure.
package sieve

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// User input is fenced with strict delimiters before it leaves the
// gateway, so the compressor cannot mistake prompt content for its own
// instructions. The delimiters are stripped from the returned text.
const (
	userStart = "[USER_START]"
	userEnd   = "[USER_END]"
)

// Result is a successful compression outcome.
type Result struct {
	Text        string // compressed prompt, delimiters stripped
	TokensSaved int    // provider estimate; may be zero or negative
}

// Client talks to the compression service. One request, one call, no
// retries: a slow sieve must never cost more latency than it saves
// tokens.
type Client struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a sieve client with a bounded per-call timeout.
func NewClient(url, apiKey string, timeout time.Duration) *Client {
	return &Client{
		url:        url,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type compressRequest struct {
	Text  string  `json:"text"`
	Level float64 `json:"level"`
}

type compressResponse struct {
	CompressedText      string `json:"compressed_text"`
	TokensSavedEstimate int    `json:"tokens_saved_estimate"`
}

// Compress sends text to the sieve at the given aggressiveness level.
// Any transport error, non-2xx status, or unusable body is returned as
// an error; the caller keeps the original text in that case.
func (c *Client) Compress(ctx context.Context, text string, level float64) (Result, error) {
	payload, err := json.Marshal(compressRequest{
		Text:  userStart + "\n" + text + "\n" + userEnd,
		Level: level,
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal sieve request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("create sieve request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("sieve request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read sieve response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("sieve returned status %d: %s", resp.StatusCode, string(body))
	}

	var out compressResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return Result{}, fmt.Errorf("unmarshal sieve response: %w", err)
	}

	compressed := stripDelimiters(out.CompressedText)
	if compressed == "" {
		return Result{}, fmt.Errorf("sieve returned empty output")
	}

	return Result{Text: compressed, TokensSaved: out.TokensSavedEstimate}, nil
}

func stripDelimiters(s string) string {
	s = strings.ReplaceAll(s, userStart, "")
	s = strings.ReplaceAll(s, userEnd, "")
	return strings.TrimSpace(s)
}
