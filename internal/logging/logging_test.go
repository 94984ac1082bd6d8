package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWithWriterText(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, Config{Level: "debug", Format: "text"})

	log.Debug("hello", KeyAddrSlug, "b0a1p0")

	require.Contains(t, buf.String(), "hello")
	require.Contains(t, buf.String(), "addr_slug=b0a1p0")
}

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, Config{Level: "info", Format: "json"})

	log.Info("tick complete", KeyTick, 3)

	out := buf.String()
	require.True(t, strings.HasPrefix(strings.TrimSpace(out), "{"))
	require.Contains(t, out, `"tick":3`)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, Config{Level: "warn"})

	log.Info("should be dropped")
	require.Empty(t, buf.String())

	log.Warn("should appear")
	require.Contains(t, buf.String(), "should appear")
}

func TestLevelOfDefaultsToInfo(t *testing.T) {
	require.Equal(t, slog.LevelInfo, levelOf(""))
	require.Equal(t, slog.LevelInfo, levelOf("bogus"))
	require.Equal(t, slog.LevelDebug, levelOf("debug"))
	require.Equal(t, slog.LevelError, levelOf("ERROR"))
}

func TestErrAttr(t *testing.T) {
	zero := Err(nil)
	require.True(t, zero.Equal(slog.Attr{}))

	a := Err(errString("boom"))
	require.Equal(t, "error", a.Key)
	require.Equal(t, "boom", a.Value.String())
}

type errString string

func (e errString) Error() string { return string(e) }

func TestNewRunIDUniqueAndLogged(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	require.NotEmpty(t, a)
	require.NotEqual(t, a, b)

	var buf bytes.Buffer
	log := NewWithWriter(&buf, Config{}).With(RunID(a))
	log.Info("started")

	require.Contains(t, buf.String(), "run_id="+a)
}
