// visionrelay streams generative image sessions to browsers over SSE and
// analyzes uploaded images and videos with a vision model.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"visionrelay/config"
	"visionrelay/logging"
	"visionrelay/media"
	"visionrelay/server"
	"visionrelay/upstream"
)

var (
	flagConfig string
	flagDebug  bool
)

func main() {
	root := &cobra.Command{
		Use:   "visionrelay",
		Short: "Streaming image generation relay and media analysis server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to config.toml")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
	root.AddCommand(serve)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runServe() error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}

	log := logging.New(flagDebug)
	defer func() { _ = log.Sync() }()

	srv := server.New(cfg, log, buildDeps(cfg, log))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// buildDeps wires the real providers when an API key is configured and falls
// back to mocks otherwise, so the server always comes up.
func buildDeps(cfg *config.Config, log *zap.Logger) server.Deps {
	extractor := media.NewExtractor(cfg.MaxFrames, log)

	if !cfg.HasValidAPI() {
		log.Warn("no API key configured, using mock providers")
		return server.Deps{
			Generator:   upstream.NewMockGenerator(cfg.PartialImages),
			Analyzer:    upstream.MockAnalyzer{},
			Extractor:   extractor,
			Transcriber: upstream.MockTranscriber{},
		}
	}

	return server.Deps{
		Generator:   upstream.NewOpenAIGenerator(cfg, log),
		Analyzer:    upstream.NewAnalyzer(cfg, log),
		Extractor:   extractor,
		Transcriber: upstream.NewTranscriber(cfg),
	}
}
