// Package media turns raw video bytes into the inputs the vision analysis
// needs: an ordered, capped sequence of still frames and a best-effort
// transcript. The codec work itself is delegated to ffmpeg/ffprobe.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// ErrNoFrames is returned when not a single still could be extracted. Unlike
// the transcript ladder this is a hard failure for the whole analysis.
var ErrNoFrames = errors.New("no frames extracted from video")

// Extraction is the result of processing one video.
type Extraction struct {
	// Frames holds JPEG stills in timestamp order, at most MaxFrames of them.
	Frames     [][]byte
	Transcript Transcript
}

type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Extractor drives ffmpeg and ffprobe. One extraction runs as sequential
// blocking process invocations inside a per-request workspace.
type Extractor struct {
	// MaxFrames caps how many stills are handed to the analysis step.
	MaxFrames int
	// MinAudioBytes is the threshold below which extracted audio is treated
	// as too short to transcribe.
	MinAudioBytes int64

	log *zap.Logger
	run commandRunner
}

func NewExtractor(maxFrames int, log *zap.Logger) *Extractor {
	if maxFrames <= 0 {
		maxFrames = 8
	}
	return &Extractor{
		MaxFrames:     maxFrames,
		MinAudioBytes: 8 << 10,
		log:           log,
		run:           runCommand,
	}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out.Bytes(), nil
}

// Process extracts frames and a transcript from the video at inputPath. The
// transcript degrades through the ladder in transcript.go and never fails the
// call; an empty frame set does.
func (x *Extractor) Process(ctx context.Context, ws *Workspace, inputPath string, tr Transcriber) (*Extraction, error) {
	frames, err := x.ExtractFrames(ctx, ws, inputPath)
	if err != nil {
		return nil, err
	}
	transcript := x.transcribe(ctx, ws, inputPath, tr)
	x.log.Info("video extraction finished",
		zap.Int("frames", len(frames)),
		zap.String("transcript", transcript.Kind.String()))
	return &Extraction{Frames: frames, Transcript: transcript}, nil
}

// ExtractFrames writes stills into the workspace and returns their bytes in
// timestamp order, capped at MaxFrames.
func (x *Extractor) ExtractFrames(ctx context.Context, ws *Workspace, inputPath string) ([][]byte, error) {
	framesDir, err := ws.Mkdir("frames")
	if err != nil {
		return nil, err
	}

	interval := x.frameInterval(ctx, inputPath)
	pattern := filepath.Join(framesDir, "%05d.jpg")
	args := []string{"-y", "-i", inputPath, "-vf", fmt.Sprintf("fps=1/%d", interval), pattern}
	if _, err := x.run(ctx, "ffmpeg", args...); err != nil {
		return nil, fmt.Errorf("extract frames: %w", err)
	}

	frames, err := readFrames(framesDir, x.MaxFrames)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, ErrNoFrames
	}
	return frames, nil
}

// frameInterval spreads MaxFrames stills over the probed duration. When the
// probe fails the fixed 5s fallback still yields a usable sample.
func (x *Extractor) frameInterval(ctx context.Context, inputPath string) int {
	dur, err := x.ProbeDuration(ctx, inputPath)
	if err != nil || dur <= 0 {
		x.log.Debug("duration probe failed, using fixed frame interval", zap.Error(err))
		return 5
	}
	interval := int(dur) / x.MaxFrames
	if interval < 1 {
		interval = 1
	}
	return interval
}

func readFrames(framesDir string, maxFrames int) ([][]byte, error) {
	entries, err := os.ReadDir(framesDir)
	if err != nil {
		return nil, fmt.Errorf("enumerate frames: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jpg" {
			continue
		}
		names = append(names, e.Name())
	}
	// ffmpeg numbers frames %05d, so lexical order is timestamp order.
	sort.Strings(names)
	if len(names) > maxFrames {
		names = names[:maxFrames]
	}

	frames := make([][]byte, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(framesDir, name))
		if err != nil {
			return nil, fmt.Errorf("read frame %s: %w", name, err)
		}
		frames = append(frames, data)
	}
	return frames, nil
}

// ExtractAudio produces a mono 16kHz WAV suitable for speech-to-text.
func (x *Extractor) ExtractAudio(ctx context.Context, ws *Workspace, inputPath string) (string, error) {
	audioPath := ws.Path("audio.wav")
	args := []string{"-y", "-i", inputPath, "-vn", "-ac", "1", "-ar", "16000", "-f", "wav", audioPath}
	if _, err := x.run(ctx, "ffmpeg", args...); err != nil {
		return "", fmt.Errorf("extract audio: %w", err)
	}
	return audioPath, nil
}

// ProbeDuration returns the media duration in seconds.
func (x *Extractor) ProbeDuration(ctx context.Context, path string) (float64, error) {
	out, err := x.run(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
}

// transcribe walks the degradation ladder: no audio track, audio too short,
// transcription failure, empty text, usable text. Faults become sentinel
// outcomes rather than errors.
func (x *Extractor) transcribe(ctx context.Context, ws *Workspace, inputPath string, tr Transcriber) Transcript {
	if tr == nil {
		return Transcript{Kind: TranscriptSilent}
	}

	audioPath, err := x.ExtractAudio(ctx, ws, inputPath)
	if err != nil {
		x.log.Debug("audio extraction failed, treating video as silent", zap.Error(err))
		return Transcript{Kind: TranscriptSilent}
	}
	info, err := os.Stat(audioPath)
	if err != nil {
		return Transcript{Kind: TranscriptSilent}
	}
	if info.Size() < x.MinAudioBytes {
		return Transcript{Kind: TranscriptTooShort}
	}

	text, err := tr.Transcribe(ctx, audioPath)
	if err != nil {
		x.log.Warn("transcription failed, continuing vision-only", zap.Error(err))
		return Transcript{Kind: TranscriptFailed, Err: err}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Transcript{Kind: TranscriptEmpty}
	}
	return Transcript{Kind: TranscriptOK, Text: text}
}
