// Package main provides the CLI entry point for the Meridian adaptive
// agent runtime.
//
// Meridian answers queries through an Anthropic-backed agent loop, escalating
// reasoning depth when an answer fails its quality gate, and persists each
// conversation as a resumable session.
//
// # Basic Usage
//
// Start an interactive chat:
//
//	meridian chat --config meridian.yaml
//
// Inspect stored sessions:
//
//	meridian sessions list
//
// Probe configured capability servers:
//
//	meridian mcp status
//
// # Environment Variables
//
//   - MERIDIAN_CONFIG: Path to configuration file (default: meridian.yaml)
//   - ANTHROPIC_API_KEY: API key used when the config omits llm.api_key
//   - OPENAI_API_KEY: API key for the optional state extractor
package main

import (
	"log/slog"
	"os"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// A sane default until the config selects the real handler.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
