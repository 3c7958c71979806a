package providers

import (
	"errors"
	"os"

	"github.com/storacha-rag/ragbot/pkg/config"
)

// ErrNoAPIKey is returned when no vision API key is configured.
var ErrNoAPIKey = errors.New("no API key configured for the vision provider")

// NewVisionProvider creates the image analysis provider from configuration,
// falling back to MISTRAL_API_KEY when the config leaves the key empty.
func NewVisionProvider(cfg *config.Config) (VisionProvider, error) {
	apiKey := cfg.Vision.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("MISTRAL_API_KEY")
	}
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	return NewMistralProvider(apiKey, cfg.Vision.APIBase, cfg.Vision.Model), nil
}
