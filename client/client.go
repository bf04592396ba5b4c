package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"visionrelay/core"
)

var (
	// ErrEmptyPrompt guards the generate action before any request is made.
	ErrEmptyPrompt = errors.New("prompt is required")
	// ErrBusy is returned when a session is already in flight.
	ErrBusy = errors.New("a generation is already in progress")
	// ErrArtifactNotFound maps the download endpoint's 404.
	ErrArtifactNotFound = errors.New("artifact not found")
)

// Client drives one generation session against the relay server and feeds
// the response stream through a Reducer.
type Client struct {
	baseURL string
	http    *http.Client
	reducer *Reducer
	log     *zap.Logger
}

func New(baseURL string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		reducer: NewReducer(DefaultTotalStages, log),
		log:     log,
	}
}

// Reducer exposes the session state for rendering.
func (c *Client) Reducer() *Reducer {
	return c.reducer
}

// Generate starts a session and blocks until the stream terminates. onEvent,
// when non-nil, observes every applied event together with the state it
// produced. Transport failures reset the reducer so the caller can retry.
func (c *Client) Generate(ctx context.Context, prompt string, onEvent func(core.Event, *Reducer)) error {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ErrEmptyPrompt
	}
	if !c.reducer.Start() {
		return ErrBusy
	}

	body, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		c.reducer.Fail(err.Error())
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		c.reducer.Fail(err.Error())
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.reducer.Fail(err.Error())
		return fmt.Errorf("open stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := readErrorMessage(resp.Body)
		c.reducer.Fail(msg)
		return fmt.Errorf("generate: server returned %d: %s", resp.StatusCode, msg)
	}

	// Chunks arrive with arbitrary boundaries; the reducer reassembles them.
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			for _, ev := range c.reducer.Feed(buf[:n]) {
				if onEvent != nil {
					onEvent(ev, c.reducer)
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			c.reducer.Fail(err.Error())
			return fmt.Errorf("read stream: %w", err)
		}
	}
}

// DownloadArtifact fetches the stored artifact for a completed session.
func (c *Client) DownloadArtifact(ctx context.Context, sessionID string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/artifact/"+sessionID, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download artifact: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, "", ErrArtifactNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download artifact: server returned %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read artifact: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func readErrorMessage(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 4<<10))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(data))
}
