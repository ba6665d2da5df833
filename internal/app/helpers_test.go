package app_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustOpen(t *testing.T, path string) *os.File {
	t.Helper()
	// #nosec G304 -- test reads from the controlled temp directory.
	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}
