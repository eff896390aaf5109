package provider

import (
	"context"
	"errors"
	"log"
	"os"

	"github.com/mohammad-safakhou/newsletter/config"
	"github.com/mohammad-safakhou/newsletter/models"
	openai_provider "github.com/mohammad-safakhou/newsletter/provider/openai"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI Client = "openai"
	Gemini Client = "gemini"
)

// Planner is the model step of the orchestrator: given the conversation so
// far and the available tools it answers with text or tool call requests.
type Planner interface {
	Plan(ctx context.Context, conversation []models.Message, tools []models.ToolSpec) (models.Message, error)
}

// NewProvider creates a planner for the configured provider. Both providers
// speak the OpenAI chat completions protocol; Gemini through its
// OpenAI-compatible endpoint.
func NewProvider(cfg config.LLMConfig) (Planner, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm api key not set")
	}
	logger := log.New(os.Stdout, "[PLANNER] ", log.LstdFlags)
	switch Client(cfg.Provider) {
	case OpenAI:
		return openai_provider.NewClient(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Temperature, cfg.MaxTokens, cfg.Timeout, logger), nil
	case Gemini:
		base := cfg.BaseURL
		if base == "" {
			base = openai_provider.GeminiBaseURL
		}
		return openai_provider.NewClient(cfg.APIKey, base, cfg.Model, cfg.Temperature, cfg.MaxTokens, cfg.Timeout, logger), nil
	default:
		return nil, errors.New("unsupported LLM provider")
	}
}
