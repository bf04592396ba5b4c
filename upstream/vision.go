package upstream

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"visionrelay/config"
	"visionrelay/media"
)

const imagePromptTemplate = `Describe this image as a detailed generation prompt. ` +
	`Capture the subject, composition, style, lighting and mood in one paragraph ` +
	`that could recreate a similar image. Reply with the prompt only.`

const videoVisionTemplate = `These are still frames sampled from a video in ` +
	`chronological order. Describe what happens in the video: the setting, the ` +
	`subjects, the action and how it develops across the frames.`

const videoAudioTemplate = videoVisionTemplate + `

The video's audio transcript follows. Combine it with the frames so the
description covers both what is seen and what is said.

Transcript:
%s`

// Analyzer sends media to the vision model and returns analysis text.
type Analyzer struct {
	cli   *openai.Client
	model string
	log   *zap.Logger
}

func NewAnalyzer(cfg *config.Config, log *zap.Logger) *Analyzer {
	return &Analyzer{cli: newClient(cfg), model: cfg.VisionModel, log: log}
}

// DescribeImage turns one uploaded image into a reusable generation prompt.
func (a *Analyzer) DescribeImage(ctx context.Context, data []byte, mime string) (string, error) {
	parts := []openai.ChatMessagePart{
		{Type: openai.ChatMessagePartTypeText, Text: imagePromptTemplate},
		imagePart(data, mime),
	}
	return a.complete(ctx, parts)
}

// DescribeVideo analyzes sampled frames plus the transcript outcome. A usable
// transcript selects the audio-aware template; every degraded outcome falls
// back to vision-only analysis.
func (a *Analyzer) DescribeVideo(ctx context.Context, frames [][]byte, transcript media.Transcript) (string, error) {
	if len(frames) == 0 {
		return "", errors.New("no frames to analyze")
	}

	parts := []openai.ChatMessagePart{
		{Type: openai.ChatMessagePartTypeText, Text: videoPrompt(transcript)},
	}
	for _, frame := range frames {
		parts = append(parts, imagePart(frame, "image/jpeg"))
	}

	a.log.Debug("analyzing video",
		zap.Int("frames", len(frames)),
		zap.String("transcript", transcript.Kind.String()))
	return a.complete(ctx, parts)
}

// videoPrompt picks the analysis template off the transcript outcome.
func videoPrompt(transcript media.Transcript) string {
	if transcript.Usable() {
		return fmt.Sprintf(videoAudioTemplate, transcript.Text)
	}
	return videoVisionTemplate
}

func (a *Analyzer) complete(ctx context.Context, parts []openai.ChatMessagePart) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := a.cli.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     a.model,
		MaxTokens: 600,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:         openai.ChatMessageRoleUser,
				MultiContent: parts,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("vision analysis: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("vision analysis returned no choices")
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("vision analysis returned empty content")
	}
	return text, nil
}

func imagePart(data []byte, mime string) openai.ChatMessagePart {
	return openai.ChatMessagePart{
		Type: openai.ChatMessagePartTypeImageURL,
		ImageURL: &openai.ChatMessageImageURL{
			URL:    fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data)),
			Detail: openai.ImageURLDetailAuto,
		},
	}
}
