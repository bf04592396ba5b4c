package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"visionrelay/config"
	"visionrelay/core"
)

// Upstream event types of the streaming generation endpoint.
const (
	upstreamPartialImage   = "response.image_generation_call.partial_image"
	upstreamImageCompleted = "response.image_generation_call.completed"
	upstreamCompleted      = "response.completed"
	upstreamFailed         = "response.failed"
	upstreamError          = "error"
)

// responsesEvent is the subset of the upstream wire shape the adapter reads.
type responsesEvent struct {
	Type              string `json:"type"`
	PartialImageIndex int    `json:"partial_image_index"`
	PartialImageB64   string `json:"partial_image_b64"`
	Result            string `json:"result"`
	Error             *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type responsesRequest struct {
	Model  string         `json:"model"`
	Input  string         `json:"input"`
	Stream bool           `json:"stream"`
	Tools  []imageGenTool `json:"tools"`
}

type imageGenTool struct {
	Type          string `json:"type"`
	PartialImages int    `json:"partial_images"`
}

// OpenAIGenerator streams image generation from the Responses API. The
// go-openai client used elsewhere has no binding for this endpoint, so the
// adapter speaks its SSE protocol directly.
type OpenAIGenerator struct {
	apiKey        string
	baseURL       string
	model         string
	partialImages int
	httpClient    *http.Client
	log           *zap.Logger
}

func NewOpenAIGenerator(cfg *config.Config, log *zap.Logger) *OpenAIGenerator {
	return &OpenAIGenerator{
		apiKey:        cfg.APIKey,
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		model:         cfg.ImageModel,
		partialImages: cfg.PartialImages,
		httpClient:    &http.Client{},
		log:           log,
	}
}

// Generate opens the upstream streaming call. Events arrive on the returned
// stream; the sequence always terminates with done, via completed or via an
// in-band error. No retries: one upstream failure is terminal for the
// session.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) *Stream {
	s := newStream()
	go g.run(ctx, prompt, s)
	return s
}

func (g *OpenAIGenerator) run(ctx context.Context, prompt string, s *Stream) {
	defer s.finish()

	fail := func(err error) {
		g.log.Warn("generation stream failed", zap.Error(err))
		if !s.send(ctx, core.Event{Type: core.EventError, Message: err.Error()}) {
			return
		}
		s.send(ctx, core.Event{Type: core.EventDone})
	}

	body, err := json.Marshal(responsesRequest{
		Model:  g.model,
		Input:  prompt,
		Stream: true,
		Tools:  []imageGenTool{{Type: "image_generation", PartialImages: g.partialImages}},
	})
	if err != nil {
		fail(fmt.Errorf("encode request: %w", err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		fail(fmt.Errorf("build request: %w", err))
		return
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		fail(fmt.Errorf("open upstream stream: %w", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fail(g.apiError(resp))
		return
	}

	g.relayEvents(ctx, resp.Body, s, fail)
}

// relayEvents reads the SSE body line by line, normalizing upstream events.
// The highest-indexed partial is retained because partials may arrive in any
// order and the final artifact is derived from the best one seen.
func (g *OpenAIGenerator) relayEvents(ctx context.Context, body io.Reader, s *Stream, fail func(error)) {
	acc := core.NewAccumulator()
	// Partial image payloads are whole base64 images on one line.
	reader := bufio.NewReaderSize(body, 256<<10)

	for {
		line, err := readLine(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				fail(errors.New("upstream stream ended without completion"))
			} else {
				fail(fmt.Errorf("read upstream stream: %w", err))
			}
			return
		}

		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimSpace(line[len("data: "):])
		if payload == "" || payload == "[DONE]" {
			continue
		}

		var ev responsesEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			g.log.Debug("skipping malformed upstream record", zap.Error(err))
			continue
		}

		switch ev.Type {
		case upstreamPartialImage:
			acc.Observe(ev.PartialImageIndex, ev.PartialImageB64)
			if !s.send(ctx, core.Event{Type: core.EventPartial, Index: ev.PartialImageIndex, Image: ev.PartialImageB64}) {
				return
			}

		case upstreamImageCompleted, upstreamCompleted:
			image := ev.Result
			if image == "" {
				best, ok := acc.Best()
				if !ok {
					fail(errors.New("upstream completed without any image payload"))
					return
				}
				image = best
			}
			if !s.send(ctx, core.Event{Type: core.EventCompleted, Image: image}) {
				return
			}
			s.send(ctx, core.Event{Type: core.EventDone})
			return

		case upstreamFailed, upstreamError:
			msg := "upstream generation failed"
			if ev.Error != nil && ev.Error.Message != "" {
				msg = ev.Error.Message
			}
			fail(errors.New(msg))
			return
		}
	}
}

// readLine returns the next line without its terminator. A trailing fragment
// before EOF is returned as a line; the EOF surfaces on the following call.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (g *OpenAIGenerator) apiError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	var apiErr struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
		return fmt.Errorf("upstream API error (%d): %s", resp.StatusCode, apiErr.Error.Message)
	}
	return fmt.Errorf("upstream API error: %s", resp.Status)
}

// requestTimeout bounds non-streaming upstream calls (vision, transcription).
const requestTimeout = 2 * time.Minute
