package ai

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Provider names accepted by NewProvider.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// ErrUnknownProvider is returned for provider names other than openai and gemini.
var ErrUnknownProvider = errors.New("unknown ai provider")

// ProviderConfig selects and tunes a model backend.
type ProviderConfig struct {
	Name      string
	Model     string
	MaxTokens int
	BaseURL   string
	Logger    zerolog.Logger
}

// NewProvider builds the Provider named by cfg.Name.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Name)) {
	case ProviderOpenAI, "":
		return NewOpenAIProvider(OpenAIConfig{
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			BaseURL:   cfg.BaseURL,
			Logger:    cfg.Logger,
		}), nil
	case ProviderGemini:
		return NewGeminiProvider(GeminiConfig{
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			Endpoint:  cfg.BaseURL,
			Logger:    cfg.Logger,
		}), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Name)
	}
}
