package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"visionrelay/core"
	"visionrelay/media"
)

type generateRequest struct {
	Prompt string `json:"prompt"`
}

// handleGenerate validates the prompt, opens the upstream stream and relays
// it. Validation failures are plain HTTP errors; once the SSE headers are
// committed every later failure travels in-band as an error event.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		return
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		// Rejected before any upstream call is made.
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "prompt is required"})
		return
	}

	s.log.Info("generation requested", zap.Int("prompt_len", len(prompt)))

	// The request context cancels the upstream call when the browser
	// disconnects mid-stream.
	stream := s.deps.Generator.Generate(r.Context(), prompt)
	s.relay.Stream(w, prompt, stream)
}

// handleArtifact serves a stored generation result as a file download.
func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("sessionId")
	art, ok := s.artifacts.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "artifact not found"})
		return
	}

	w.Header().Set("Content-Type", art.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", artifactFilename(art)))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(art.Data)))
	_, _ = w.Write(art.Data)
}

func artifactFilename(art core.Artifact) string {
	ext := ".png"
	if art.ContentType == "image/jpeg" {
		ext = ".jpg"
	}
	return "generated-" + art.CreatedAt.Format("20060102-150405") + ext
}

func (s *Server) handleAnalyzeImage(w http.ResponseWriter, r *http.Request) {
	data, header, ok := s.readUpload(w, r, "image", s.cfg.MaxImageUploadBytes(), "image/")
	if !ok {
		return
	}

	prompt, err := s.deps.Analyzer.DescribeImage(r.Context(), data, header.Header.Get("Content-Type"))
	if err != nil {
		s.log.Error("image analysis failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "image analysis failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"prompt":  prompt,
	})
}

func (s *Server) handleAnalyzeVideo(w http.ResponseWriter, r *http.Request) {
	data, header, ok := s.readUpload(w, r, "video", s.cfg.MaxVideoUploadBytes(), "video/")
	if !ok {
		return
	}

	ws, err := media.NewWorkspace(s.cfg.DataRoot)
	if err != nil {
		s.log.Error("workspace creation failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "video analysis failed",
		})
		return
	}
	// The workspace is removed on every path, including extraction failures.
	defer ws.Close()

	inputPath, err := ws.WriteInput("input"+uploadExt(header), bytes.NewReader(data))
	if err != nil {
		s.log.Error("writing upload failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "video analysis failed",
		})
		return
	}

	extraction, err := s.deps.Extractor.Process(r.Context(), ws, inputPath, s.deps.Transcriber)
	if err != nil {
		s.log.Error("video extraction failed", zap.Error(err))
		status := http.StatusInternalServerError
		msg := "video analysis failed"
		if errors.Is(err, media.ErrNoFrames) {
			status = http.StatusUnprocessableEntity
			msg = "no frames could be extracted from the video"
		}
		writeJSON(w, status, map[string]any{"success": false, "error": msg})
		return
	}

	analysis, err := s.deps.Analyzer.DescribeVideo(r.Context(), extraction.Frames, extraction.Transcript)
	if err != nil {
		s.log.Error("video analysis failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "video analysis failed",
		})
		return
	}

	// The original upload is kept so the client can show a preview alongside
	// the analysis text.
	videoID := core.NewID()
	s.videos.Put(videoID, core.Artifact{
		Data:        data,
		ContentType: header.Header.Get("Content-Type"),
		Name:        header.Filename,
		CreatedAt:   time.Now(),
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"videoId":    videoID,
		"analysis":   analysis,
		"transcript": extraction.Transcript.Kind.String(),
		"frames":     len(extraction.Frames),
	})
}

// handleMedia serves a previously uploaded video back for preview.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("videoId")
	art, ok := s.videos.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "video not found"})
		return
	}

	w.Header().Set("Content-Type", art.ContentType)
	http.ServeContent(w, r, art.Name, art.CreatedAt, bytes.NewReader(art.Data))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"artifacts": s.artifacts.Len(),
		"videos":    s.videos.Len(),
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// readUpload parses one multipart file field, enforcing the byte cap and the
// content type family. It writes the error response itself; callers bail out
// when ok is false.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request, field string, maxBytes int64, typePrefix string) ([]byte, *multipart.FileHeader, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1<<20)

	if err := r.ParseMultipartForm(maxBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   fmt.Sprintf("invalid upload (max %d MB)", maxBytes>>20),
		})
		return nil, nil, false
	}

	file, header, err := r.FormFile(field)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   fmt.Sprintf("missing %s file", field),
		})
		return nil, nil, false
	}
	defer file.Close()

	if header.Size > maxBytes {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   fmt.Sprintf("file too large (max %d MB)", maxBytes>>20),
		})
		return nil, nil, false
	}
	if ct := header.Header.Get("Content-Type"); !strings.HasPrefix(ct, typePrefix) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   fmt.Sprintf("unsupported content type %q", ct),
		})
		return nil, nil, false
	}

	data, err := io.ReadAll(io.LimitReader(file, maxBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "reading upload failed",
		})
		return nil, nil, false
	}
	return data, header, true
}

func uploadExt(header *multipart.FileHeader) string {
	if i := strings.LastIndex(header.Filename, "."); i >= 0 {
		ext := header.Filename[i:]
		// Reject path-ish or absurd extensions from hostile filenames.
		if len(ext) <= 8 && !strings.ContainsAny(ext, "/\\") {
			return ext
		}
	}
	return ".mp4"
}
