package pktsim

import (
	"bytes"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	for text, want := range map[string]slog.Level{"debug": slog.LevelDebug, "Info": slog.LevelInfo,
		"WARN": slog.LevelWarn, "error": slog.LevelError} {
		level, err := ParseLogLevel(text)
		require.NoError(t, err, text)
		require.Equal(t, want, level)
	}
	_, err := ParseLogLevel("loud")
	require.Error(t, err)
}

func TestLogLevelFiltersRecords(t *testing.T) {
	var buf bytes.Buffer
	SetLogOutput(&buf)
	defer SetLogOutput(os.Stderr)
	defer SetLogLevel(slog.LevelWarn)

	net := lineNetwork(t, 10, 1.0e6, 0.0)
	SetLogLevel(slog.LevelWarn)
	require.NoError(t, net.ComputeRoutes())
	require.Empty(t, buf.String())

	SetLogLevel(slog.LevelInfo)
	require.NoError(t, net.ComputeRoutes())
	require.Contains(t, buf.String(), "routes computed")
	require.Contains(t, buf.String(), "network=line")
}
