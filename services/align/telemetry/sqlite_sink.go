// Copyright (C) 2026 MacroLens AI (oss@macrolens.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package telemetry persists alignment audit records. The sink is append
// only: one row per decision, no updates, no deletes. Aggregation into
// stage-distribution and coverage reports is an external collaborator's
// concern.
package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/MacroLensAI/MacroLens/services/align/engine"
)

// SQLiteSink appends TelemetryRecords to a local SQLite database.
//
// Thread Safety: database/sql serializes access; safe for concurrent use.
type SQLiteSink struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteSink opens (creating if needed) the telemetry database at path.
//
// Inputs:
//
//	path - Database file path. ":memory:" works for tests.
//	logger - Structured logger. A nil logger uses slog.Default().
//
// Outputs:
//
//	*SQLiteSink - Ready for Append calls.
//	error - Non-nil when the database cannot be opened or migrated.
func NewSQLiteSink(path string, logger *slog.Logger) (*SQLiteSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry database: %w", err)
	}
	s := &SQLiteSink{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize telemetry schema: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

func (s *SQLiteSink) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS alignments (
        id TEXT PRIMARY KEY,
        created_at DATETIME NOT NULL,
        query_name TEXT NOT NULL,
        stage TEXT NOT NULL,
        method TEXT NOT NULL,
        method_reason TEXT NOT NULL,
        matched_ref TEXT,
        conversion_applied INTEGER NOT NULL,
        energy_clamped INTEGER NOT NULL,
        pool_raw INTEGER NOT NULL,
        pool_cooked INTEGER NOT NULL,
        pool_commercial INTEGER NOT NULL,
        prefer_raw_blocked INTEGER NOT NULL,
        confidence REAL NOT NULL,
        extras TEXT NOT NULL
    );

    CREATE INDEX IF NOT EXISTS idx_alignments_stage ON alignments(stage);
    CREATE INDEX IF NOT EXISTS idx_alignments_created_at ON alignments(created_at);
    `
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// extras holds the variable-shape tail of a record as one JSON column.
type extras struct {
	ProxyFormula         string           `json:"proxy_formula,omitempty"`
	GateRejections       map[string]int   `json:"gate_rejections,omitempty"`
	LastResortRejections []string         `json:"last_resort_rejections,omitempty"`
	RunnerUp             *engine.RunnerUp `json:"runner_up,omitempty"`
	SwitchedFromRef      string           `json:"switched_from_ref,omitempty"`
	StagesEvaluated      []string         `json:"stages_evaluated,omitempty"`
	ConfigFallbacks      []string         `json:"config_fallbacks,omitempty"`
}

// Append writes one telemetry record.
//
// Inputs:
//
//	ctx - Context for the insert.
//	rec - The sealed record; never mutated.
//
// Outputs:
//
//	error - Non-nil when the insert fails.
//
// Thread Safety: Safe for concurrent use.
func (s *SQLiteSink) Append(ctx context.Context, rec engine.TelemetryRecord) error {
	extraJSON, err := json.Marshal(extras{
		ProxyFormula:         rec.ProxyFormula,
		GateRejections:       rec.GateRejections,
		LastResortRejections: rec.LastResortRejections,
		RunnerUp:             rec.RunnerUp,
		SwitchedFromRef:      rec.SwitchedFromRef,
		StagesEvaluated:      rec.StagesEvaluated,
		ConfigFallbacks:      rec.ConfigFallbacks,
	})
	if err != nil {
		return fmt.Errorf("failed to encode telemetry extras: %w", err)
	}

	query := `
        INSERT INTO alignments (
            id, created_at, query_name, stage, method, method_reason,
            matched_ref, conversion_applied, energy_clamped,
            pool_raw, pool_cooked, pool_commercial, prefer_raw_blocked,
            confidence, extras
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.CreatedAt, rec.QueryName, rec.Stage, rec.Method, rec.MethodReason,
		rec.MatchedRef, boolInt(rec.ConversionApplied), boolInt(rec.EnergyClamped),
		rec.Pool.Raw, rec.Pool.Cooked, rec.Pool.Commercial, boolInt(rec.PreferRawBlocked),
		rec.Confidence, string(extraJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert telemetry record: %w", err)
	}

	s.logger.Debug("telemetry record appended",
		slog.String("id", rec.ID),
		slog.String("stage", rec.Stage),
	)
	return nil
}

// CountByStage returns the stage distribution of stored records, used by
// tests and the debug CLI.
func (s *SQLiteSink) CountByStage(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT stage, COUNT(*) FROM alignments GROUP BY stage`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stage counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var stage string
		var n int
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, fmt.Errorf("failed to scan stage count: %w", err)
		}
		counts[stage] = n
	}
	return counts, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
