// Package logging wraps log/slog with the small, process-wide configuration
// surface the supervisor binary needs (level, text/json format), replacing
// the teacher's bare fmt.Printf calls in dxl/controller.go with structured
// fields. It is deliberately a fraction of the size of
// marmos91-dittofs/internal/logger, which this is grounded on: that
// package's request-scoped LogContext machinery has no analogue in a
// single-threaded periodic tick, so only the level/format setup and a
// standard field-key set are carried over.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Config mirrors the "logging" section of mgr_config's surrounding
// supervisord.yaml, analogous to marmos91-dittofs's logger.Config.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // text, json
}

// New builds a *slog.Logger from cfg, writing to stdout. An empty Config
// yields info-level text logging.
func New(cfg Config) *slog.Logger {
	return NewWithWriter(os.Stdout, cfg)
}

// NewWithWriter is New with an explicit writer, used by tests.
func NewWithWriter(w io.Writer, cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: levelOf(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func levelOf(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Standard field keys, with the same values as the literal keys
// internal/drive logs with, so log aggregation can filter/group consistently,
// mirroring marmos91-dittofs/internal/logger/fields.go's standard-key
// convention scaled down to this domain.
const (
	KeyDrive    = "drive"
	KeyAddrSlug = "addr_slug"
	KeyState    = "state"
	KeySubState = "sub_state"
	KeyEvent    = "event"
	KeyTick     = "tick"
	KeyErrCode  = "error_code"
	KeyRunID    = "run_id"
)

// NewRunID generates a fresh per-process run identifier, meant to be
// attached once at process startup (via log.With(logging.RunID(id))) so
// every log line and telemetry snapshot from one "supervisord run"/"sim"
// invocation can be correlated across both sinks.
func NewRunID() string {
	return uuid.New().String()
}

// RunID returns a slog attribute for the per-process run id.
func RunID(id string) slog.Attr { return slog.String(KeyRunID, id) }

// Drive returns a slog attribute pair for the drive model id field. It
// exists only so call sites read as a small typed vocabulary instead of
// raw string literals, matching the attr-helper style of
// marmos91-dittofs/internal/logger/fields.go without reproducing its full
// protocol-spanning field catalog.
func Drive(modelID string) slog.Attr { return slog.String(KeyDrive, modelID) }

// AddrSlug returns a slog attribute for a drive's addr_slug.
func AddrSlug(slug string) slog.Attr { return slog.String(KeyAddrSlug, slug) }

// Err returns a slog attribute for an error, or a zero Attr for a nil err.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", fmt.Sprint(err))
}
