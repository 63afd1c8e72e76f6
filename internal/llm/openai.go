package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nomadcafe/kekiai-japaneseai/internal/apperr"
	"github.com/nomadcafe/kekiai-japaneseai/internal/config"
	"github.com/nomadcafe/kekiai-japaneseai/internal/gcp"
)

// openAICompatible serves OpenAI and DeepSeek, which share the chat completions API.
type openAICompatible struct {
	kind       Kind
	endpoint   string
	model      string
	apiKey     string
	httpClient *http.Client
}

func newOpenAICompatible(kind Kind, cfg config.ProviderConfig, client *http.Client) *openAICompatible {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.openai.com/v1"
		if kind == DeepSeek {
			base = "https://api.deepseek.com"
		}
	}
	return &openAICompatible{
		kind:       kind,
		endpoint:   base + "/chat/completions",
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		httpClient: client,
	}
}

func (c *openAICompatible) Name() Kind { return c.kind }

func (c *openAICompatible) Available() bool {
	return c.apiKey != "" && c.model != ""
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *openAICompatible) Generate(ctx context.Context, r Request) (string, error) {
	payload := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: r.System},
			{Role: "user", Content: r.User},
		},
		Temperature: r.Temperature,
		MaxTokens:   r.MaxTokens,
	}
	if r.JSON {
		payload.ResponseFormat = map[string]string{"type": "json_object"}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s payload: %w", c.kind, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classifyTransport(c.kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", classifyHTTP(c.kind, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", apperr.Wrapf(err, apperr.LLMInvalidResponse, "decode %s response", c.kind)
	}
	if len(decoded.Choices) == 0 {
		return "", apperr.Newf(apperr.LLMInvalidResponse, "%s returned no choices", c.kind)
	}
	return gcp.StripFences(decoded.Choices[0].Message.Content), nil
}
