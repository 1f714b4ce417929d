// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command platform starts the AleutianCloud multi-tenant chat server.
//
// The server reads its tenant, provider, dataset, and bot definitions
// from a YAML file; provider API keys are resolved from the environment
// variables those definitions name, never from the file itself.
//
// # Usage
//
//	# Build
//	go build -o platform ./cmd/platform
//
//	# Run
//	TEST_OPENAI_KEY=sk-... ./platform serve --config platform.yaml
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianCloud/pkg/logging"
	"github.com/AleutianAI/AleutianCloud/services/platform"
)

var (
	configPath  string
	logLevel    string
	logFormat   string
	watchConfig bool

	rootCmd = &cobra.Command{
		Use:   "platform",
		Short: "The AleutianCloud multi-tenant RAG chat service",
		Long: `Platform serves scoped, retrieval-grounded chatbots for multiple
tenants from one process: guardrailed queries, Weaviate-backed context
retrieval, streaming generation, and durable conversation history.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the chat platform HTTP server",
		RunE:  runServe,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "platform.yaml", "Path to the platform definition file")
	serveCmd.Flags().StringVar(&logLevel, "log-level", "info", "Minimum log level (debug, info, warn, error)")
	serveCmd.Flags().StringVar(&logFormat, "log-format", "json", "Log encoding (json, text)")
	serveCmd.Flags().BoolVar(&watchConfig, "watch-config", true, "Hot-reload the definition file on change")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logging.Setup(logging.Config{
		Level:   logLevel,
		Format:  logging.Format(logFormat),
		Service: "aleutian-platform",
	})

	svc, err := platform.New(platform.Config{
		ConfigPath:  configPath,
		WatchConfig: watchConfig,
	})
	if err != nil {
		return fmt.Errorf("create platform service: %w", err)
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Platform starting", "config", configPath)
	if err := svc.Run(ctx); err != nil {
		return fmt.Errorf("platform server: %w", err)
	}
	return nil
}
