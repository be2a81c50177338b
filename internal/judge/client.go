// Package judge asks a second LLM to adjudicate borderline prompts.
// The judge answers with a single word, valid or invalid; anything else
// counts as a judge failure and the caller fails open.
package judge

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

const systemPrompt = `You are a security evaluator for an AI system protecting an upstream model from economic DDoS attacks.

Analyze the user prompt and determine if it is:
1. A VALID, legitimate request that makes sense for an AI assistant
2. An INVALID request: a DDoS/token-stuffing attack (repetitive content, noise, excessive tokens), random gibberish, or content that would waste resources without providing value

Respond with ONLY one word: "valid" or "invalid"

Considerations:
- Legitimate questions or requests about any topic = valid
- Repetitive words, token stuffing, or obvious noise = invalid
- Random characters or nonsensical text = invalid
- Clear attempts to waste API resources = invalid`

// Verdict is the judge's adjudication of a prompt. Score is 0 for a
// legitimate prompt and 1 for a malicious one.
type Verdict struct {
	Score float64
	Valid bool
}

// Client wraps the judge model behind a uniform evaluate call.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewClient creates a judge client. baseURL is the provider root; the
// chat-completions path is appended per call.
func NewClient(baseURL, apiKey, model string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type judgeRequest struct {
	Model       string         `json:"model"`
	Messages    []judgeMessage `json:"messages"`
	Temperature float64        `json:"temperature"`
	MaxTokens   int            `json:"max_tokens"`
}

type judgeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type judgeResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Evaluate asks the judge whether prompt is legitimate. An error means
// the judge could not be consulted; callers treat that as valid.
func (c *Client) Evaluate(ctx context.Context, prompt string) (Verdict, error) {
	payload, err := json.Marshal(judgeRequest{
		Model: c.model,
		Messages: []judgeMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: 0,
		MaxTokens:   5,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("marshal judge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Verdict{}, fmt.Errorf("create judge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("judge request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Verdict{}, fmt.Errorf("read judge response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Verdict{}, fmt.Errorf("judge returned status %d: %s", resp.StatusCode, string(body))
	}

	var out judgeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return Verdict{}, fmt.Errorf("unmarshal judge response: %w", err)
	}
	if len(out.Choices) == 0 {
		return Verdict{}, fmt.Errorf("judge returned no choices")
	}

	return parseVerdict(out.Choices[0].Message.Content)
}

// parseVerdict maps the one-word answer onto a verdict. The judge is
// prompted for exactly "valid" or "invalid"; trailing punctuation and
// casing are forgiven, anything more is a failure.
func parseVerdict(answer string) (Verdict, error) {
	word := strings.ToLower(strings.Trim(strings.TrimSpace(answer), `."'!`))
	switch word {
	case "valid":
		return Verdict{Score: 0, Valid: true}, nil
	case "invalid":
		return Verdict{Score: 1, Valid: false}, nil
	default:
		return Verdict{}, fmt.Errorf("unparseable judge verdict %q", answer)
	}
}
