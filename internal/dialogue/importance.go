package dialogue

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nomadcafe/kekiai-japaneseai/internal/llm"
)

// ImportanceAnalyzer asks the model for per-slide weights. It is only used
// when weighted importance is switched on; the default is uniform weights.
type ImportanceAnalyzer struct {
	provider llm.Provider
}

func NewImportanceAnalyzer(p llm.Provider) *ImportanceAnalyzer {
	return &ImportanceAnalyzer{provider: p}
}

// Analyze returns weights for slides, scaled by any adjustments the
// instruction asks for. Failures fall back to uniform weights.
func (a *ImportanceAnalyzer) Analyze(ctx context.Context, slides []string, instruction string) Importance {
	base := UniformImportance(len(slides))
	raw, err := a.provider.Generate(ctx, llm.Request{
		System:      importanceSystemPrompt,
		User:        importanceUserPrompt(slides),
		Temperature: 0.3,
		MaxTokens:   1000,
		JSON:        true,
	})
	if err != nil {
		slog.Warn("importance analysis failed", "error", err)
	} else if weights, err := decodeWeights(raw); err != nil {
		slog.Warn("importance analysis unparseable", "error", err)
	} else {
		for n, w := range weights {
			if n >= 1 && n <= len(slides) && w > 0 {
				base[n] = w
			}
		}
	}

	if instruction == "" {
		return base
	}
	raw, err = a.provider.Generate(ctx, llm.Request{
		System:      adjustmentSystemPrompt,
		User:        adjustmentUserPrompt(instruction, len(slides)),
		Temperature: 0.3,
		MaxTokens:   500,
		JSON:        true,
	})
	if err != nil {
		slog.Warn("importance adjustment failed", "error", err)
		return base
	}
	adjust, err := decodeWeights(raw)
	if err != nil {
		slog.Warn("importance adjustment unparseable", "error", err)
		return base
	}
	for n, f := range adjust {
		if _, ok := base[n]; ok && f > 0 {
			base[n] *= f
		}
	}
	return base
}

func decodeWeights(raw string) (Importance, error) {
	var imp Importance
	if err := json.Unmarshal([]byte(trimToJSON(raw)), &imp); err != nil {
		return nil, err
	}
	return imp, nil
}
