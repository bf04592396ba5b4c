// Package config loads the relay configuration from an optional config.toml,
// layered with environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Addr    string `toml:"addr"`
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url"`

	// ImageModel drives streaming generation, VisionModel the image/video
	// analysis calls, ASRModel the audio transcription calls.
	ImageModel  string `toml:"image_model"`
	VisionModel string `toml:"vision_model"`
	ASRModel    string `toml:"asr_model"`

	// PartialImages is the number of intermediate renders requested from the
	// upstream stream. The client shows PartialImages+1 progress stages.
	PartialImages int `toml:"partial_images"`

	// MaxFrames caps how many extracted stills are forwarded to the vision
	// analysis call, regardless of video length.
	MaxFrames int `toml:"max_frames"`

	DataRoot string `toml:"data_root"`

	MaxImageUploadMB int `toml:"max_image_upload_mb"`
	MaxVideoUploadMB int `toml:"max_video_upload_mb"`

	StoreMaxEntries int    `toml:"store_max_entries"`
	StoreTTL        string `toml:"store_ttl"`
}

func defaults() *Config {
	return &Config{
		Addr:             ":3000",
		BaseURL:          "https://api.openai.com/v1",
		ImageModel:       "gpt-4.1",
		VisionModel:      "gpt-4o",
		ASRModel:         "whisper-1",
		PartialImages:    3,
		MaxFrames:        8,
		DataRoot:         "./data",
		MaxImageUploadMB: 10,
		MaxVideoUploadMB: 50,
		StoreMaxEntries:  256,
		StoreTTL:         "1h",
	}
}

// Load reads path when it exists, then applies environment overrides, then
// validates. A missing file is not an error; the environment alone can carry
// a full configuration.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path == "" {
		path = "config.toml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Addr = ":" + v
	}
	if v := os.Getenv("IMAGE_MODEL"); v != "" {
		cfg.ImageModel = v
	}
	if v := os.Getenv("VISION_MODEL"); v != "" {
		cfg.VisionModel = v
	}
	if v := os.Getenv("ASR_MODEL"); v != "" {
		cfg.ASRModel = v
	}
	if v := os.Getenv("DATA_ROOT"); v != "" {
		cfg.DataRoot = v
	}
	if v := os.Getenv("PARTIAL_IMAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PartialImages = n
		}
	}
}

func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Addr) == "" {
		problems = append(problems, "addr is required")
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		problems = append(problems, "base_url is required")
	}
	if c.PartialImages < 1 {
		problems = append(problems, "partial_images must be at least 1")
	}
	if c.MaxFrames < 1 {
		problems = append(problems, "max_frames must be at least 1")
	}
	if _, err := time.ParseDuration(c.StoreTTL); err != nil {
		problems = append(problems, fmt.Sprintf("store_ttl is not a duration: %v", err))
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(problems, "; "))
	}
	return nil
}

// HasValidAPI reports whether upstream calls can be made at all. Without a
// key the server falls back to mock providers.
func (c *Config) HasValidAPI() bool {
	return strings.TrimSpace(c.APIKey) != "" && strings.TrimSpace(c.BaseURL) != ""
}

// ArtifactTTL returns the parsed store TTL. Validate has already checked the
// string parses.
func (c *Config) ArtifactTTL() time.Duration {
	d, err := time.ParseDuration(c.StoreTTL)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// MaxImageUploadBytes returns the analyze-image body cap.
func (c *Config) MaxImageUploadBytes() int64 {
	return int64(c.MaxImageUploadMB) << 20
}

// MaxVideoUploadBytes returns the analyze-video body cap.
func (c *Config) MaxVideoUploadBytes() int64 {
	return int64(c.MaxVideoUploadMB) << 20
}
