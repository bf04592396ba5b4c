package upstream

import (
	openai "github.com/sashabaranov/go-openai"

	"visionrelay/config"
)

// newClient builds the go-openai client for the non-streaming calls (vision
// chat, transcription) from the shared API configuration.
func newClient(cfg *config.Config) *openai.Client {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(clientConfig)
}
