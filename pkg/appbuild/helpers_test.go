package appbuild

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testLinkerScript = `BASE_ADDRESS = 0x80400000;
OUTPUT_ARCH(riscv)
ENTRY(_start)

SECTIONS
{
    . = BASE_ADDRESS;
    .text : {
        *(.text.entry)
        *(.text .text.*)
    }
}
`

func testContext() context.Context {
	logger := zerolog.Nop()
	return WithLogger(context.Background(), &logger)
}

// testConfig returns the default config rooted in a fresh temporary directory with an empty
// source directory, an existing target directory and the linker script above.
func testConfig(t *testing.T) *Config {
	t.Helper()

	cfg, err := Defaults()
	require.NoError(t, err)

	dir := t.TempDir()
	cfg.WorkDir = dir
	cfg.SourceDir = filepath.Join(dir, "src", "bin")
	cfg.Linker = filepath.Join(dir, "src", "linker.ld")
	cfg.TargetDir = filepath.Join(dir, "target", "release")
	cfg.ScriptDir = filepath.Join(dir, "target", "linker")

	require.NoError(t, os.MkdirAll(cfg.SourceDir, 0755))
	require.NoError(t, os.MkdirAll(cfg.TargetDir, 0755))
	require.NoError(t, os.WriteFile(cfg.Linker, []byte(testLinkerScript), 0644))
	return cfg
}
