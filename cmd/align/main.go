// Copyright (C) 2026 MacroLens AI (oss@macrolens.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// align runs one alignment decision from the command line.
//
// This is a debugging binary, not a review surface: it loads a FoodQuery from
// one JSON file and a candidate list from another, runs the alignment engine
// against the embedded (or on-disk) configuration, and prints the result plus
// its telemetry record as JSON.
//
// Usage:
//
//	align run --query query.json --candidates candidates.json
//	align run --query query.json --candidates candidates.json --config ./configdir
//	align proxies
//
// Exit codes:
//
//	0: alignment produced a result (including no_candidates)
//	1: bad input or IO failure
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MacroLensAI/MacroLens/services/align/catalog"
	"github.com/MacroLensAI/MacroLens/services/align/config"
	"github.com/MacroLensAI/MacroLens/services/align/engine"
	"github.com/MacroLensAI/MacroLens/services/align/proxy"
	"github.com/MacroLensAI/MacroLens/services/align/telemetry"
)

var (
	queryPath      string
	candidatesPath string
	configDir      string
	telemetryDB    string
)

func main() {
	root := &cobra.Command{
		Use:   "align",
		Short: "Run the food-to-catalog alignment engine on one query",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Align one query JSON against a candidates JSON",
		RunE:  runAlign,
	}
	runCmd.Flags().StringVar(&queryPath, "query", "", "Path to the FoodQuery JSON file (required)")
	runCmd.Flags().StringVar(&candidatesPath, "candidates", "", "Path to the candidate entries JSON file (required)")
	runCmd.Flags().StringVar(&configDir, "config", "", "Config directory; empty uses embedded defaults")
	runCmd.Flags().StringVar(&telemetryDB, "telemetry-db", "", "Optional SQLite path to append the telemetry record to")
	runCmd.MarkFlagRequired("query")
	runCmd.MarkFlagRequired("candidates")
	root.AddCommand(runCmd)

	root.AddCommand(&cobra.Command{
		Use:   "proxies",
		Short: "List the whitelisted proxy classes",
		RunE:  runProxies,
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runAlign(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg, err := loadConfig(ctx, logger)
	if err != nil {
		return err
	}

	var q engine.FoodQuery
	if err := readJSON(queryPath, &q); err != nil {
		return fmt.Errorf("failed to read query: %w", err)
	}
	var candidates []catalog.Entry
	if err := readJSON(candidatesPath, &candidates); err != nil {
		return fmt.Errorf("failed to read candidates: %w", err)
	}

	orch := engine.New(config.NewStatic(cfg), logger)
	result, err := orch.Align(ctx, q, candidates)
	if err != nil {
		return err
	}

	if telemetryDB != "" {
		sink, err := telemetry.NewSQLiteSink(telemetryDB, logger)
		if err != nil {
			return err
		}
		defer sink.Close()
		if err := sink.Append(ctx, result.Telemetry); err != nil {
			return err
		}
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func runProxies(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg, err := loadConfig(ctx, logger)
	if err != nil {
		return err
	}
	for _, class := range proxy.NewLibrary(logger).Whitelisted(cfg) {
		fmt.Println(class)
	}
	return nil
}

func loadConfig(ctx context.Context, logger *slog.Logger) (*config.Config, error) {
	if configDir == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(ctx, configDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", configDir, err)
	}
	return cfg, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
