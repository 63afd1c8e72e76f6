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

const (
	anthropicVersion = "2023-06-01"
	jsonOnlySuffix   = "\n\nPlease respond with valid JSON only."
)

type anthropic struct {
	endpoint   string
	model      string
	apiKey     string
	httpClient *http.Client
}

func newAnthropic(cfg config.ProviderConfig, client *http.Client) *anthropic {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.anthropic.com"
	}
	return &anthropic{
		endpoint:   base + "/v1/messages",
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		httpClient: client,
	}
}

func (a *anthropic) Name() Kind      { return Claude }
func (a *anthropic) Available() bool { return a.apiKey != "" && a.model != "" }

type messagesRequest struct {
	Model       string        `json:"model"`
	System      string        `json:"system,omitempty"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (a *anthropic) Generate(ctx context.Context, r Request) (string, error) {
	user := r.User
	if r.JSON {
		user += jsonOnlySuffix
	}
	maxTokens := r.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4000
	}
	body, err := json.Marshal(messagesRequest{
		Model:       a.model,
		System:      r.System,
		Messages:    []chatMessage{{Role: "user", Content: user}},
		MaxTokens:   maxTokens,
		Temperature: r.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal claude payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", classifyTransport(Claude, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", classifyHTTP(Claude, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var decoded messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", apperr.Wrap(err, apperr.LLMInvalidResponse, "decode claude response")
	}
	var sb strings.Builder
	for _, block := range decoded.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", apperr.New(apperr.LLMInvalidResponse, "claude returned no text")
	}
	return gcp.StripFences(sb.String()), nil
}
