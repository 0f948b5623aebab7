package gateway

import (
	"fmt"
	"os"
)

// ProviderKind enumerates the LLM providers the gateway can be
// materialized with. The set is closed: unknown values are rejected
// before any file or process is touched.
type ProviderKind string

const (
	ProviderEmergent  ProviderKind = "emergent"
	ProviderOpenAI    ProviderKind = "openai"
	ProviderAnthropic ProviderKind = "anthropic"
	ProviderGroq      ProviderKind = "groq"
	ProviderCohere    ProviderKind = "cohere"
	ProviderDeepSeek  ProviderKind = "deepseek"
	ProviderOllama    ProviderKind = "ollama"
	ProviderKimi      ProviderKind = "kimi"
	ProviderCustom    ProviderKind = "custom"
)

// startProviders are the kinds accepted by gateway start.
var startProviders = map[ProviderKind]bool{
	ProviderEmergent:  true,
	ProviderOpenAI:    true,
	ProviderAnthropic: true,
}

// hubProviders are the kinds accepted by hub provider configuration.
// They extend the gateway's model catalog without changing its primary model.
var hubProviders = map[ProviderKind]bool{
	ProviderGroq:     true,
	ProviderCohere:   true,
	ProviderDeepSeek: true,
	ProviderOllama:   true,
	ProviderKimi:     true,
	ProviderCustom:   true,
}

// ValidStartProvider reports whether kind can drive a gateway start.
func ValidStartProvider(kind ProviderKind) bool { return startProviders[kind] }

// ValidHubProvider reports whether kind can be added via the hub.
func ValidHubProvider(kind ProviderKind) bool { return hubProviders[kind] }

// RequiresAPIKey reports whether kind needs a caller-supplied key.
// Emergent falls back to the platform key, Ollama is local, custom
// endpoints decide for themselves.
func RequiresAPIKey(kind ProviderKind) bool {
	return kind != ProviderEmergent && kind != ProviderOllama && kind != ProviderCustom
}

func model(fields map[string]any) map[string]any { return fields }

// startProviderEntries returns the provider catalog entries, model aliases
// and primary model for a gateway start with the given provider.
func startProviderEntries(kind ProviderKind, apiKey string) (providers map[string]any, aliases map[string]any, primary string, err error) {
	switch kind {
	case ProviderEmergent:
		key := apiKey
		if key == "" {
			key = os.Getenv("EMERGENT_API_KEY")
		}
		base := os.Getenv("EMERGENT_BASE_URL")
		if base == "" {
			base = "https://integrations.emergentagent.com/llm"
		}
		providers = map[string]any{
			"emergent-gpt": map[string]any{
				"baseUrl": base + "/",
				"apiKey":  key,
				"api":     "openai-completions",
				"models": []any{
					model(map[string]any{
						"id": "gpt-5.2", "name": "GPT-5.2", "reasoning": true,
						"input":         []any{"text"},
						"cost":          map[string]any{"input": 0.00000175, "output": 0.000014, "cacheRead": 0.000000175, "cacheWrite": 0.00000175},
						"contextWindow": 400000, "maxTokens": 128000,
					}),
				},
			},
			"emergent-claude": map[string]any{
				"baseUrl":    base,
				"apiKey":     key,
				"api":        "anthropic-messages",
				"authHeader": true,
				"models": []any{
					model(map[string]any{
						"id": "claude-sonnet-4-5", "name": "Claude Sonnet 4.5",
						"input":         []any{"text"},
						"cost":          map[string]any{"input": 0.000003, "output": 0.000015, "cacheRead": 0.0000003, "cacheWrite": 0.00000375},
						"contextWindow": 200000, "maxTokens": 64000,
					}),
					model(map[string]any{
						"id": "claude-opus-4-5", "name": "Claude Opus 4.5",
						"input":         []any{"text"},
						"cost":          map[string]any{"input": 0.000005, "output": 0.000025, "cacheRead": 0.0000005, "cacheWrite": 0.00000625},
						"contextWindow": 200000, "maxTokens": 64000,
					}),
				},
			},
		}
		aliases = map[string]any{
			"emergent-gpt/gpt-5.2":              map[string]any{"alias": "gpt-5.2"},
			"emergent-claude/claude-sonnet-4-5": map[string]any{"alias": "sonnet"},
		}
		primary = "emergent-claude/claude-sonnet-4-5"

	case ProviderOpenAI:
		providers = map[string]any{
			"openai": map[string]any{
				"baseUrl": "https://api.openai.com/v1/",
				"apiKey":  apiKey,
				"api":     "openai-completions",
				"models": []any{
					model(map[string]any{
						"id": "gpt-5.2", "name": "GPT-5.2", "reasoning": true,
						"input":         []any{"text", "image"},
						"cost":          map[string]any{"input": 0.00000175, "output": 0.000014, "cacheRead": 0.000000175, "cacheWrite": 0.00000175},
						"contextWindow": 400000, "maxTokens": 128000,
					}),
					model(map[string]any{
						"id": "o4-mini-2025-04-16", "name": "o4-mini", "reasoning": true,
						"input":         []any{"text", "image"},
						"cost":          map[string]any{"input": 0.0000011, "output": 0.0000044},
						"contextWindow": 200000, "maxTokens": 100000,
					}),
					model(map[string]any{
						"id": "gpt-4o", "name": "GPT-4o", "reasoning": false,
						"input":         []any{"text", "image"},
						"cost":          map[string]any{"input": 0.0000025, "output": 0.00001},
						"contextWindow": 128000, "maxTokens": 16384,
					}),
				},
			},
		}
		aliases = map[string]any{
			"openai/gpt-5.2": map[string]any{"alias": "gpt-5.2"},
		}
		primary = "openai/gpt-5.2"

	case ProviderAnthropic:
		providers = map[string]any{
			"anthropic": map[string]any{
				"baseUrl": "https://api.anthropic.com",
				"apiKey":  apiKey,
				"api":     "anthropic-messages",
				"models": []any{
					model(map[string]any{
						"id": "claude-opus-4-5-20251101", "name": "Claude Opus 4.5",
						"input":         []any{"text", "image"},
						"cost":          map[string]any{"input": 0.000015, "output": 0.000075, "cacheRead": 0.0000015, "cacheWrite": 0.00001875},
						"contextWindow": 200000, "maxTokens": 64000,
					}),
				},
			},
		}
		aliases = map[string]any{
			"anthropic/claude-opus-4-5-20251101": map[string]any{"alias": "opus"},
		}
		primary = "anthropic/claude-opus-4-5-20251101"

	default:
		return nil, nil, "", fmt.Errorf("%w: %q", ErrInvalidProvider, kind)
	}
	return providers, aliases, primary, nil
}

// hubProviderEntry returns the catalog entry for a hub-configured
// provider. baseURL is only honored for Ollama.
func hubProviderEntry(kind ProviderKind, apiKey, baseURL string) (name string, entry map[string]any, err error) {
	switch kind {
	case ProviderGroq:
		entry = map[string]any{
			"baseUrl": "https://api.groq.com/openai/v1/",
			"api":     "openai-completions",
			"models": []any{
				model(map[string]any{"id": "llama-3.3-70b-versatile", "name": "Llama 3.3 70B", "input": []any{"text"}, "contextWindow": 128000, "maxTokens": 32768}),
				model(map[string]any{"id": "llama-3.1-70b-versatile", "name": "Llama 3.1 70B", "input": []any{"text"}, "contextWindow": 128000, "maxTokens": 32768}),
				model(map[string]any{"id": "mixtral-8x7b-32768", "name": "Mixtral 8x7B", "input": []any{"text"}, "contextWindow": 32768, "maxTokens": 32768}),
				model(map[string]any{"id": "gemma2-9b-it", "name": "Gemma 2 9B", "input": []any{"text"}, "contextWindow": 8192, "maxTokens": 8192}),
			},
		}
	case ProviderCohere:
		entry = map[string]any{
			"baseUrl": "https://api.cohere.ai/v1/",
			"api":     "openai-completions",
			"models": []any{
				model(map[string]any{"id": "command-r-plus", "name": "Command R+", "input": []any{"text"}, "contextWindow": 128000, "maxTokens": 4096}),
				model(map[string]any{"id": "command-r", "name": "Command R", "input": []any{"text"}, "contextWindow": 128000, "maxTokens": 4096}),
				model(map[string]any{"id": "command", "name": "Command", "input": []any{"text"}, "contextWindow": 4096, "maxTokens": 4096}),
			},
		}
	case ProviderDeepSeek:
		entry = map[string]any{
			"baseUrl": "https://api.deepseek.com/v1/",
			"api":     "openai-completions",
			"models": []any{
				model(map[string]any{"id": "deepseek-chat", "name": "DeepSeek Chat", "input": []any{"text"}, "contextWindow": 64000, "maxTokens": 4096}),
				model(map[string]any{"id": "deepseek-coder", "name": "DeepSeek Coder", "input": []any{"text"}, "contextWindow": 64000, "maxTokens": 4096}),
			},
		}
	case ProviderOllama:
		base := baseURL
		if base == "" {
			base = "http://localhost:11434/v1/"
		}
		entry = map[string]any{
			"baseUrl": base,
			"api":     "openai-completions",
			"models": []any{
				model(map[string]any{"id": "llama3.2", "name": "Llama 3.2 (Local)", "input": []any{"text"}, "contextWindow": 128000, "maxTokens": 4096}),
				model(map[string]any{"id": "mistral", "name": "Mistral (Local)", "input": []any{"text"}, "contextWindow": 32768, "maxTokens": 4096}),
				model(map[string]any{"id": "qwen2.5", "name": "Qwen 2.5 (Local)", "input": []any{"text"}, "contextWindow": 128000, "maxTokens": 4096}),
			},
		}
	case ProviderKimi:
		entry = map[string]any{
			"baseUrl": "https://api.moonshot.cn/v1/",
			"api":     "openai-completions",
			"models": []any{
				model(map[string]any{"id": "moonshot-v1-8k", "name": "Moonshot v1 8K", "input": []any{"text"}, "contextWindow": 8192, "maxTokens": 8192}),
				model(map[string]any{"id": "moonshot-v1-32k", "name": "Moonshot v1 32K", "input": []any{"text"}, "contextWindow": 32768, "maxTokens": 32768}),
				model(map[string]any{"id": "moonshot-v1-128k", "name": "Moonshot v1 128K", "input": []any{"text"}, "contextWindow": 131072, "maxTokens": 131072}),
			},
		}
	case ProviderCustom:
		if baseURL == "" {
			return "", nil, fmt.Errorf("%w: custom provider needs a base_url", ErrInvalidProvider)
		}
		entry = map[string]any{
			"baseUrl": baseURL,
			"api":     "openai-completions",
			"models":  []any{},
		}
		if apiKey != "" {
			entry["apiKey"] = apiKey
		}
	default:
		return "", nil, fmt.Errorf("%w: %q", ErrInvalidProvider, kind)
	}

	if RequiresAPIKey(kind) {
		entry["apiKey"] = apiKey
	}
	return string(kind), entry, nil
}

// catalogModelIDs lists the model IDs inside a catalog entry.
func catalogModelIDs(entry map[string]any) []string {
	models, _ := entry["models"].([]any)
	out := make([]string, 0, len(models))
	for _, m := range models {
		if mm, ok := m.(map[string]any); ok {
			if id, ok := mm["id"].(string); ok {
				out = append(out, id)
			}
		}
	}
	return out
}
