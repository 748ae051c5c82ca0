package llm

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/sternelee/forge-agent/chat"
	"github.com/sternelee/forge-agent/llm/bedrock"
	"github.com/sternelee/forge-agent/llm/claude"
	"github.com/sternelee/forge-agent/llm/gemini"
	"github.com/sternelee/forge-agent/llm/openai"
)

// Config holds the LLM client configuration
type Config struct {
	Model    string
	Provider string // Explicit provider name (openai, claude, gemini, bedrock, ollama); empty auto-detects from Model
	APIKey   string
	BaseURL  string // Optional base URL override for the API endpoint

	Temperature  float64
	MaxTokens    int
	SystemPrompt string
	Debug        bool

	// AWSRegion selects the Bedrock region. Falls back to AWS_REGION /
	// AWS_DEFAULT_REGION and finally "us-east-1" when empty.
	AWSRegion string
	// AWSAccessKeyID and AWSSecretAccessKey provide explicit Bedrock
	// credentials. Left empty, the default AWS credential chain is used
	// (environment, shared config, or an attached IAM role).
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSSessionToken    string
}

// ModelProvider represents the different LLM providers
type ModelProvider int

const (
	ProviderOpenAI ModelProvider = iota
	ProviderClaude
	ProviderGemini
	ProviderBedrock
	ProviderOllama
	ProviderUnknown
)

// NewClient creates a chat client based on the configuration
func NewClient(config *Config) (chat.Client, error) {
	provider := parseProvider(config.Provider)
	if provider == ProviderUnknown {
		provider = detectProvider(config.Model)
	}
	apiKey := config.APIKey

	switch provider {
	case ProviderOpenAI:
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("openAI API key required (set -api-key or OPENAI_API_KEY)")
		}

		opts := []openai.Option{
			openai.WithModel(config.Model),
		}

		// Use Responses API for gpt-5, o1, and o3 models
		if isResponsesModel(config.Model) {
			opts = append(opts, openai.WithAPI(openai.Responses))
		}

		if config.Debug {
			opts = append(opts, openai.WithDebug(true))
		}

		baseURL := config.BaseURL
		if baseURL == "" {
			baseURL = openai.OpenAIURL
		}
		log.Printf("Using OpenAI client with model %q\n", config.Model)
		return openai.NewClient(baseURL, apiKey, opts...)

	case ProviderClaude:
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("anthropic API key required (set -api-key or ANTHROPIC_API_KEY)")
		}

		opts := []claude.Option{
			claude.WithModel(config.Model),
		}
		if config.Debug {
			opts = append(opts, claude.WithDebug(true))
		}

		baseURL := config.BaseURL
		if baseURL == "" {
			baseURL = claude.AnthropicURL
		}
		log.Printf("Using Claude client with model %q\n", config.Model)
		return claude.NewClient(baseURL, apiKey, opts...)

	case ProviderGemini:
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
			if apiKey == "" {
				apiKey = os.Getenv("GOOGLE_API_KEY")
			}
		}
		if apiKey == "" {
			return nil, fmt.Errorf("gemini API key required (set -api-key, GEMINI_API_KEY, or GOOGLE_API_KEY)")
		}

		opts := []gemini.Option{
			gemini.WithModel(config.Model),
		}
		if config.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(config.BaseURL))
		}

		log.Printf("Using Gemini client with model %q\n", config.Model)
		return gemini.NewClient(apiKey, opts...)

	case ProviderBedrock:
		modelID := strings.TrimPrefix(strings.TrimPrefix(config.Model, "bedrock:"), "bedrock/")

		region := config.AWSRegion
		if region == "" {
			region = os.Getenv("AWS_REGION")
		}
		if region == "" {
			region = os.Getenv("AWS_DEFAULT_REGION")
		}
		if region == "" {
			region = "us-east-1"
		}

		log.Printf("Using Bedrock client with model %q in region %q\n", modelID, region)
		return bedrock.NewClient(context.Background(), bedrock.Config{
			Region:          region,
			AccessKeyID:     config.AWSAccessKeyID,
			SecretAccessKey: config.AWSSecretAccessKey,
			SessionToken:    config.AWSSessionToken,
			ModelID:         modelID,
			MaxTokens:       config.MaxTokens,
		})

	case ProviderOllama:
		// Ollama doesn't require an API key
		opts := []openai.Option{
			openai.WithModel(config.Model),
		}
		if config.Debug {
			opts = append(opts, openai.WithDebug(true))
		}

		baseURL := config.BaseURL
		if baseURL == "" {
			baseURL = openai.OllamaURL
		}
		log.Printf("Using OpenAI client locally w/ ollama with model %q\n", config.Model)
		return openai.NewClient(baseURL, "", opts...)

	default:
		return nil, fmt.Errorf("unknown model provider for model: %s", config.Model)
	}
}

// isResponsesModel checks if the model should use the Responses API
func isResponsesModel(model string) bool {
	modelLower := strings.ToLower(model)
	// gpt-5, o1, and o3 models use the Responses API
	return strings.HasPrefix(modelLower, "gpt-5") ||
		strings.HasPrefix(modelLower, "o1-") ||
		strings.HasPrefix(modelLower, "o3")
}

// parseProvider maps an explicit provider name to a ModelProvider, returning
// ProviderUnknown (causing detectProvider to take over) for an empty or
// unrecognized name.
func parseProvider(name string) ModelProvider {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "openai":
		return ProviderOpenAI
	case "claude", "anthropic":
		return ProviderClaude
	case "gemini", "google":
		return ProviderGemini
	case "bedrock", "aws":
		return ProviderBedrock
	case "ollama":
		return ProviderOllama
	default:
		return ProviderUnknown
	}
}

// detectProvider detects the provider from the model name
func detectProvider(model string) ModelProvider {
	modelLower := strings.ToLower(model)

	// OpenAI models
	if strings.HasPrefix(modelLower, "gpt-") ||
		strings.HasPrefix(modelLower, "o1-") ||
		strings.HasPrefix(modelLower, "o3") { // o3 doesn't have a dash
		return ProviderOpenAI
	}

	// Claude models
	if strings.HasPrefix(modelLower, "claude-") {
		return ProviderClaude
	}

	// Gemini models
	if strings.HasPrefix(modelLower, "gemini-") {
		return ProviderGemini
	}

	// Bedrock models are selected with an explicit "bedrock:" or
	// "bedrock/" prefix (e.g. "bedrock:anthropic.claude-3-sonnet..."),
	// since the underlying Bedrock model ids otherwise collide with the
	// native Claude/Gemini prefixes above.
	if strings.HasPrefix(modelLower, "bedrock:") || strings.HasPrefix(modelLower, "bedrock/") {
		return ProviderBedrock
	}

	// Ollama models (common ones)
	if strings.HasPrefix(modelLower, "llama") ||
		strings.HasPrefix(modelLower, "mistral") ||
		strings.HasPrefix(modelLower, "mixtral") ||
		strings.HasPrefix(modelLower, "qwen") ||
		strings.HasPrefix(modelLower, "phi") ||
		strings.HasPrefix(modelLower, "deepseek") ||
		strings.HasPrefix(modelLower, "codellama") {
		return ProviderOllama
	}

	return ProviderUnknown
}
