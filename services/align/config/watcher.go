// Copyright (C) 2026 MacroLens AI (oss@macrolens.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// Provider
// =============================================================================

// Provider supplies the active configuration to the engine. The engine reads
// the provider once per alignment call, so a hot swap takes effect on the
// next call and never mid-decision.
type Provider interface {
	// Current returns the active configuration. Never nil.
	Current() *Config
}

// Static is a Provider backed by a fixed configuration value.
type Static struct {
	cfg *Config
}

// NewStatic wraps a fixed configuration. A nil cfg uses the embedded defaults.
func NewStatic(cfg *Config) Static {
	if cfg == nil {
		cfg = Default()
	}
	return Static{cfg: cfg}
}

// Current returns the wrapped configuration.
func (s Static) Current() *Config {
	return s.cfg
}

// =============================================================================
// Watcher
// =============================================================================

// Watcher is a Provider that reloads the configuration directory when any
// section file changes, swapping the active value atomically.
//
// Description:
//
//	A failed reload (parse or validation error) keeps the previous
//	configuration active and logs the failure; the engine never observes a
//	partially-applied config.
//
// Thread Safety: Current is safe for concurrent use. Close must be called
// exactly once.
type Watcher struct {
	dir     string
	logger  *slog.Logger
	current atomic.Pointer[Config]
	fs      *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher loads dir and starts watching it for changes.
//
// Inputs:
//
//	ctx - Context for the initial load. Must not be nil.
//	dir - Configuration directory. Must not be empty.
//	logger - Logger instance. Nil uses slog.Default().
//
// Outputs:
//
//	*Watcher - The running watcher.
//	error - Non-nil if the initial load or the fsnotify setup fails.
func NewWatcher(ctx context.Context, dir string, logger *slog.Logger) (*Watcher, error) {
	if dir == "" {
		return nil, fmt.Errorf("config: watcher requires a directory")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := Load(ctx, dir, logger)
	if err != nil {
		return nil, err
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: creating fsnotify watcher: %w", err)
	}
	if err := fs.Add(dir); err != nil {
		fs.Close()
		return nil, fmt.Errorf("config: watching %s: %w", dir, err)
	}

	w := &Watcher{
		dir:    dir,
		logger: logger,
		fs:     fs,
		done:   make(chan struct{}),
	}
	w.current.Store(cfg)
	go w.loop()
	return w, nil
}

// Current returns the active configuration.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fs.Close()
}

// loop reloads on write/create/remove events until Close.
func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) {
				continue
			}
			cfg, err := Load(context.Background(), w.dir, w.logger)
			if err != nil {
				w.logger.Warn("config reload failed, keeping previous config",
					slog.String("dir", w.dir),
					slog.String("event", event.String()),
					slog.String("error", err.Error()),
				)
				continue
			}
			w.current.Store(cfg)
			w.logger.Info("config reloaded",
				slog.String("dir", w.dir),
				slog.String("trigger", event.Name),
			)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", slog.String("error", err.Error()))
		}
	}
}
