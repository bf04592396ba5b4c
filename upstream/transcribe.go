package upstream

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"visionrelay/config"
)

// Transcriber sends extracted audio to the speech-to-text endpoint. It
// implements media.Transcriber; outcome classification (silent, too short,
// empty) happens in the extraction ladder, not here.
type Transcriber struct {
	cli   *openai.Client
	model string
}

func NewTranscriber(cfg *config.Config) *Transcriber {
	return &Transcriber{cli: newClient(cfg), model: cfg.ASRModel}
}

func (t *Transcriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := t.cli.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: audioPath,
	})
	if err != nil {
		return "", fmt.Errorf("transcribe audio: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
