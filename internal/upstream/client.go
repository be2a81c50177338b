// Package upstream forwards chat-completion requests to the protected
// model and normalizes provider failures into a small taxonomy the HTTP
// layer can map onto status codes.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/llmshield/shield-gateway/internal/types"
	"github.com/tidwall/gjson"
)

// Kind classifies an upstream failure.
type Kind string

const (
	// KindRateLimit covers provider 429s and quota/billing rejections.
	// The gateway surfaces these as 429 with the provider detail verbatim.
	KindRateLimit Kind = "rate_limit"
	// KindUpstream covers every other provider failure, including shape
	// mismatches in a 2xx body. Surfaced as 502.
	KindUpstream Kind = "upstream"
)

// Error is a normalized upstream failure.
type Error struct {
	Kind       Kind
	StatusCode int    // provider status, 0 for transport failures
	Detail     string // human detail, verbatim from the provider where possible
}

func (e *Error) Error() string {
	return fmt.Sprintf("upstream %s (status %d): %s", e.Kind, e.StatusCode, e.Detail)
}

// Client calls the provider's chat-completions endpoint. No retries:
// rate limits and outages are surfaced, and the circuit breaker stops
// hammering a provider that is already down.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	headers    map[string]string
	httpClient *http.Client
	breaker    *CircuitBreaker
}

// NewClient creates an upstream client. model is the default used when
// a request names none. breaker may be nil to disable circuit breaking.
func NewClient(baseURL, apiKey, model string, headers map[string]string, timeout time.Duration, breaker *CircuitBreaker) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		headers:    headers,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
	}
}

// Complete forwards req to the provider. It returns the raw response
// payload for byte-exact pass-through, together with the parsed subset
// the gateway inspects. Failures come back as *Error.
func (c *Client) Complete(ctx context.Context, req *types.ChatRequest) ([]byte, *types.ChatResponse, error) {
	if c.breaker != nil && !c.breaker.Allow() {
		return nil, nil, &Error{Kind: KindUpstream, Detail: "upstream circuit open"}
	}

	outbound := *req
	if outbound.Model == "" {
		outbound.Model = c.model
	}

	payload, err := json.Marshal(&outbound)
	if err != nil {
		return nil, nil, &Error{Kind: KindUpstream, Detail: "marshal upstream request: " + err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, nil, &Error{Kind: KindUpstream, Detail: "create upstream request: " + err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		if v != "" {
			httpReq.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.recordFailure()
		return nil, nil, &Error{Kind: KindUpstream, Detail: "upstream request failed: " + err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.recordFailure()
		return nil, nil, &Error{Kind: KindUpstream, StatusCode: resp.StatusCode, Detail: "read upstream response: " + err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		// Only provider outages trip the breaker; 4xx means the provider
		// is up and rejecting this caller.
		if resp.StatusCode >= 500 {
			c.recordFailure()
		}
		return nil, nil, normalizeError(resp.StatusCode, body)
	}

	var parsed types.ChatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		c.recordFailure()
		return nil, nil, &Error{Kind: KindUpstream, StatusCode: resp.StatusCode, Detail: "unmarshal upstream response: " + err.Error()}
	}
	if len(parsed.Choices) == 0 {
		c.recordFailure()
		return nil, nil, &Error{Kind: KindUpstream, StatusCode: resp.StatusCode, Detail: "upstream response has no choices"}
	}

	if c.breaker != nil {
		c.breaker.RecordSuccess()
	}
	return body, &parsed, nil
}

func (c *Client) recordFailure() {
	if c.breaker != nil {
		c.breaker.RecordFailure()
	}
}

// normalizeError maps a provider error body onto the taxonomy. The
// detail is the provider's own message when one can be extracted, so a
// 429 reaches the caller verbatim.
func normalizeError(status int, body []byte) *Error {
	detail := gjson.GetBytes(body, "error.message").String()
	if detail == "" {
		detail = strings.TrimSpace(string(body))
	}
	if detail == "" {
		detail = fmt.Sprintf("upstream returned status %d", status)
	}

	kind := KindUpstream
	if status == http.StatusTooManyRequests || isQuotaError(body) {
		kind = KindRateLimit
	}
	return &Error{Kind: kind, StatusCode: status, Detail: detail}
}

// isQuotaError catches providers that report exhausted quota or billing
// problems under a non-429 status.
func isQuotaError(body []byte) bool {
	for _, path := range []string{"error.type", "error.code"} {
		v := strings.ToLower(gjson.GetBytes(body, path).String())
		if strings.Contains(v, "quota") || strings.Contains(v, "billing") {
			return true
		}
	}
	return false
}
