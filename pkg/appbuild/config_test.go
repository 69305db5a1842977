package appbuild

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Defaults()
	require.NoError(t, err)

	assert.Equal(t, "src/bin", cfg.SourceDir)
	assert.Equal(t, "src/linker.ld", cfg.Linker)
	assert.Equal(t, ModeGenerate, cfg.Mode)
	assert.Equal(t, "target/riscv64gc-unknown-none-elf/release", cfg.TargetDir)
	assert.Equal(t, "riscv64", cfg.Arch)
	assert.Equal(t, `RUSTFLAGS="-Clink-arg=-T$LINKER_SCRIPT -Cforce-frame-pointers=yes" cargo build --bin "$APP" --release`, cfg.BuildCommand)
	assert.Equal(t, `rust-objcopy --binary-architecture=$ARCH "$ELF" --strip-all -O binary "$BIN"`, cfg.ConvertCommand)
	assert.False(t, cfg.KeepGoing)
	assert.Equal(t, "info", cfg.Log.Level)

	base, err := cfg.Base()
	require.NoError(t, err)
	assert.Equal(t, uint64(0x80400000), base)

	step, err := cfg.StepSize()
	require.NoError(t, err)
	assert.Equal(t, uint64(0x20000), step)

	assert.NoError(t, cfg.Validate())
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel())
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"bad base":      func(c *Config) { c.BaseAddress = "0xzz" },
		"bad step":      func(c *Config) { c.Step = "-1" },
		"zero step":     func(c *Config) { c.Step = "0" },
		"bad mode":      func(c *Config) { c.Mode = "overwrite" },
		"bad log level": func(c *Config) { c.Log.Level = "loud" },
		"no source dir": func(c *Config) { c.SourceDir = "" },
		"no linker":     func(c *Config) { c.Linker = "" },
		"no build":      func(c *Config) { c.BuildCommand = "" },
		"no convert":    func(c *Config) { c.ConvertCommand = "" },
		"negative max":  func(c *Config) { c.MaxApps = -1 },
		"overflow": func(c *Config) {
			c.BaseAddress = "0xffffffffffff0000"
			c.Step = "0x10000"
			c.MaxApps = 2
		},
	}

	for name, mutate := range cases {
		cfg, err := Defaults()
		require.NoError(t, err)
		mutate(cfg)
		assert.Error(t, cfg.Validate(), name)
	}
}

func TestValidateAcceptsDecimalAndMaxApps(t *testing.T) {
	cfg, err := Defaults()
	require.NoError(t, err)

	cfg.BaseAddress = "2151677952"
	cfg.Step = "131072"
	cfg.MaxApps = 4
	cfg.Mode = ModeInplace
	require.NoError(t, cfg.Validate())

	base, err := cfg.Base()
	require.NoError(t, err)
	assert.Equal(t, uint64(0x80400000), base)
}

func TestLoaderReadsFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFile)
	require.NoError(t, os.WriteFile(path, []byte(`
source_dir = "apps"
base_address = "0x80600000"
mode = "inplace"
keep_going = true

[log]
level = "debug"
`), 0644))

	t.Setenv("APPBUILD_STEP", "0x40000")

	cfg, loader := Loader(path)
	require.NoError(t, loader.Load())

	assert.Equal(t, "apps", cfg.SourceDir)
	assert.Equal(t, "0x80600000", cfg.BaseAddress)
	assert.Equal(t, "0x40000", cfg.Step)
	assert.Equal(t, ModeInplace, cfg.Mode)
	assert.True(t, cfg.KeepGoing)
	assert.Equal(t, "debug", cfg.Log.Level)
	// untouched fields keep their defaults
	assert.Equal(t, "src/linker.ld", cfg.Linker)
	assert.NoError(t, cfg.Validate())
}

func TestResolve(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)

	cfg := &Config{WorkDir: "user"}
	assert.Equal(t, filepath.Join(wd, "user", "src", "linker.ld"), cfg.Resolve("src/linker.ld"))
	assert.Equal(t, filepath.Join(wd, "target"), (&Config{WorkDir: "."}).Resolve("target"))
	assert.Equal(t, "", cfg.Resolve(""))

	abs := filepath.Join(t.TempDir(), "linker.ld")
	assert.Equal(t, abs, cfg.Resolve(abs))
}
