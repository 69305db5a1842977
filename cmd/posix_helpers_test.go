package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runTool(t *testing.T, args ...string) error {
	t.Helper()

	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func TestPortableHelpers(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b")

	require.NoError(t, runTool(t, "mkdir", "-p", nested))
	assert.DirExists(t, nested)

	src := filepath.Join(dir, "image.bin")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0644))
	require.NoError(t, runTool(t, "mv", src, nested))
	assert.FileExists(t, filepath.Join(nested, "image.bin"))
	assert.NoFileExists(t, src)

	assert.Error(t, runTool(t, "mv", filepath.Join(dir, "missing"), nested))

	require.NoError(t, runTool(t, "rm", "-r", "-f", filepath.Join(dir, "a"), filepath.Join(dir, "missing")))
	assert.NoDirExists(t, filepath.Join(dir, "a"))
}
