// Package llm is the closed set of text-generation backends the dialogue
// engine talks to. Every backend reports failures as apperr codes so callers
// never inspect provider wording.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nomadcafe/kekiai-japaneseai/internal/apperr"
	"github.com/nomadcafe/kekiai-japaneseai/internal/config"
	"github.com/nomadcafe/kekiai-japaneseai/internal/gcp"
	"github.com/nomadcafe/kekiai-japaneseai/internal/resilience"
)

// Kind names a provider variant.
type Kind string

const (
	OpenAI   Kind = "openai"
	DeepSeek Kind = "deepseek"
	Claude   Kind = "claude"
	Gemini   Kind = "gemini"
)

// Kinds lists every supported variant in display order.
var Kinds = []Kind{OpenAI, Claude, Gemini, DeepSeek}

// ParseKind validates a provider name.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", apperr.Newf(apperr.InvalidArgument, "unknown LLM provider %q", s)
}

// Request is one generation call.
type Request struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
	// JSON asks the backend for a single JSON object.
	JSON bool
}

// Provider generates text from a system and a user prompt.
type Provider interface {
	Name() Kind
	Generate(ctx context.Context, req Request) (string, error)
	Available() bool
}

// Unavailable is returned when a provider cannot be constructed, usually
// because no credential is configured.
type Unavailable struct {
	Kind   Kind
	Reason string
}

func (u Unavailable) Name() Kind      { return u.Kind }
func (u Unavailable) Available() bool { return false }

func (u Unavailable) Generate(context.Context, Request) (string, error) {
	return "", apperr.New(apperr.LLMNotConfigured, u.Reason).WithMetadata("provider", string(u.Kind))
}

// Status reports whether a provider can be used right now.
type Status struct {
	Name      Kind   `json:"name"`
	Model     string `json:"model"`
	Available bool   `json:"available"`
}

// Factory builds providers from configuration, optionally overriding the
// credential per job.
type Factory struct {
	cfg        config.LLMConfig
	vertex     *gcp.VertexClient
	httpClient *http.Client
	breakers   map[Kind]*resilience.Breaker
}

// NewFactory returns a factory. vertex may be nil when Gemini is not deployed.
func NewFactory(cfg config.LLMConfig, vertex *gcp.VertexClient) *Factory {
	breakers := make(map[Kind]*resilience.Breaker, len(Kinds))
	for _, k := range Kinds {
		bc := resilience.DefaultConfig()
		bc.Name = "llm-" + string(k)
		breakers[k] = resilience.NewBreaker(bc)
	}
	return &Factory{
		cfg:        cfg,
		vertex:     vertex,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		breakers:   breakers,
	}
}

// Default returns the configured default provider.
func (f *Factory) Default() Provider {
	return f.Provider(f.cfg.DefaultProvider, "")
}

// Provider returns the named backend wrapped in retry and circuit breaking.
// An empty name selects the default; a non-empty apiKey replaces the configured one.
func (f *Factory) Provider(name, apiKey string) Provider {
	if name == "" {
		name = f.cfg.DefaultProvider
	}
	kind, err := ParseKind(name)
	if err != nil {
		return Unavailable{Kind: Kind(name), Reason: err.Error()}
	}
	pc := f.cfg.Providers[string(kind)]
	if apiKey != "" {
		pc.APIKey = apiKey
	}

	var p Provider
	switch kind {
	case OpenAI, DeepSeek:
		p = newOpenAICompatible(kind, pc, f.httpClient)
	case Claude:
		p = newAnthropic(pc, f.httpClient)
	case Gemini:
		p = newVertex(pc, f.vertex)
	}
	if !p.Available() {
		return Unavailable{Kind: kind, Reason: fmt.Sprintf("%s is not configured", kind)}
	}
	return NewResilient(p, f.breakers[kind], f.retryConfig())
}

// Statuses reports availability of every variant with the configured credentials.
func (f *Factory) Statuses() []Status {
	out := make([]Status, 0, len(Kinds))
	for _, k := range Kinds {
		out = append(out, Status{
			Name:      k,
			Model:     f.cfg.Providers[string(k)].Model,
			Available: f.Provider(string(k), "").Available(),
		})
	}
	return out
}

func (f *Factory) retryConfig() resilience.RetryConfig {
	rc := resilience.LLMRetryConfig()
	if f.cfg.MaxRetries > 0 {
		rc.MaxRetries = f.cfg.MaxRetries
	}
	return rc
}
