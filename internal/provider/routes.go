package provider

import (
	"github.com/copyforgehq/copyforge/internal/config"
	"github.com/copyforgehq/copyforge/pkg/models"
)

// chainOrder fixes the fallback order per content category. Articles and
// product copy lead with OpenAI; design sections lead with Anthropic, which
// handles structured layout copy better in practice.
var chainOrder = map[models.TaskType][]string{
	models.TaskTypeArticles:       {"openai", "anthropic", "gemini"},
	models.TaskTypeProducts:       {"openai", "gemini", "anthropic"},
	models.TaskTypeDesignSections: {"anthropic", "openai", "gemini"},
}

// Chains builds the per-category fallback chains from vendor config, skipping
// providers without an API key. The result is fixed for the process lifetime.
func Chains(cfg config.ProvidersConfig) map[models.TaskType][]ChainEntry {
	available := map[string]ChainEntry{}
	if cfg.OpenAI.Enabled() {
		available["openai"] = ChainEntry{Provider: "openai", Model: cfg.OpenAI.Model}
	}
	if cfg.Anthropic.Enabled() {
		available["anthropic"] = ChainEntry{Provider: "anthropic", Model: cfg.Anthropic.Model}
	}
	if cfg.Gemini.Enabled() {
		available["gemini"] = ChainEntry{Provider: "gemini", Model: cfg.Gemini.Model}
	}

	chains := make(map[models.TaskType][]ChainEntry, len(chainOrder))
	for category, names := range chainOrder {
		var chain []ChainEntry
		for _, name := range names {
			if entry, ok := available[name]; ok {
				chain = append(chain, entry)
			}
		}
		if len(chain) > 0 {
			chains[category] = chain
		}
	}
	return chains
}
