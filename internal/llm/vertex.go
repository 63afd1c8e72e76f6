package llm

import (
	"context"

	"cloud.google.com/go/vertexai/genai"

	"github.com/nomadcafe/kekiai-japaneseai/internal/apperr"
	"github.com/nomadcafe/kekiai-japaneseai/internal/config"
	"github.com/nomadcafe/kekiai-japaneseai/internal/gcp"
)

// vertex serves Gemini through the shared Vertex AI client. Credentials come
// from the runtime service account, so there is no API key.
type vertex struct {
	model  string
	client *gcp.VertexClient
}

func newVertex(cfg config.ProviderConfig, client *gcp.VertexClient) *vertex {
	return &vertex{model: cfg.Model, client: client}
}

func (v *vertex) Name() Kind      { return Gemini }
func (v *vertex) Available() bool { return v.client != nil && v.model != "" }

func (v *vertex) Generate(ctx context.Context, r Request) (string, error) {
	user := r.User
	if r.JSON {
		user += jsonOnlySuffix
	}
	model := v.client.GenerativeModel(gcp.ModelOptions{
		Model:       v.model,
		System:      r.System,
		Temperature: float32(r.Temperature),
		MaxTokens:   int32(r.MaxTokens),
		JSON:        r.JSON,
	})
	resp, err := model.GenerateContent(ctx, genai.Text(user))
	if err != nil {
		return "", classifyGRPC(Gemini, err)
	}
	text := gcp.ResponseText(resp)
	if text == "" {
		return "", apperr.New(apperr.LLMInvalidResponse, "gemini returned an empty candidate")
	}
	return text, nil
}
