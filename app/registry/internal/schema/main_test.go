package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	out := filepath.Join(t.TempDir(), "schema.json")
	opts := options{}
	opts.Args.Output = out

	require.NoError(t, run(opts))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"title": "Gatekeeper Registry Configuration"`)

	opts.Check = true
	require.NoError(t, run(opts), "freshly written schema is current")

	require.NoError(t, os.WriteFile(out, []byte("{}\n"), 0o600))
	err = run(opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is stale")

	opts.Args.Output = filepath.Join(t.TempDir(), "missing.json")
	require.Error(t, run(opts))
}
