package logging_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/momentics/hioload-uwsd/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONLevelVar(t *testing.T) {
	var buf bytes.Buffer
	log, lvl, err := logging.New(logging.Config{Level: "info", Format: logging.FormatJSON, Output: &buf})
	require.NoError(t, err)

	log.Debug("hidden")
	assert.Empty(t, buf.String())

	lvl.Set(slog.LevelDebug)
	log.Debug("shown", "peer", "127.0.0.1:80")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"peer":"127.0.0.1:80"`)
}

func TestNew_Rejects(t *testing.T) {
	_, _, err := logging.New(logging.Config{Level: "loud"})
	assert.Error(t, err)
	_, _, err = logging.New(logging.Config{Format: "xml"})
	assert.Error(t, err)
}

func TestDiscard_DisabledAtEveryLevel(t *testing.T) {
	log := logging.Discard()
	for _, l := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelError} {
		assert.False(t, log.Enabled(context.Background(), l))
	}
}
