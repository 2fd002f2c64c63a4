package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windtunnel-dev/windtunnel/internal/sink"
)

func TestReplayCommandSources(t *testing.T) {
	cmd := newReplayCmd()
	require.NotNil(t, cmd.Flags().Lookup("db"), "replay can read the original run from libsql")
	require.NotNil(t, cmd.Flags().Lookup("out"))
}

func TestOpenReaderDefaultsToJSONL(t *testing.T) {
	reader, closeReader, err := openReader(t.TempDir(), "")
	require.NoError(t, err)
	defer closeReader()

	_, ok := reader.(*sink.JSONLReader)
	assert.True(t, ok)
}
