package appbuild

import (
	"math/bits"
	"path/filepath"
	"strconv"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

const (
	// ModeGenerate writes one linker script per application and leaves the shared script alone.
	ModeGenerate = "generate"
	// ModeInplace patches the shared linker script and restores it after every application.
	ModeInplace = "inplace"

	// BuiltinConverter selects the in-process ELF to binary conversion instead of an external tool.
	BuiltinConverter = "builtin"

	// ConfigFile is the config file that is read from the working directory if it exists.
	ConfigFile = "appbuild.toml"
)

// Config describes all configuration options
type Config struct {
	SourceDir   string `default:"src/bin" toml:"source_dir" usage:"Directory containing one source file per application"`
	Linker      string `default:"src/linker.ld" toml:"linker" usage:"Shared linker script containing the base address literal"`
	BaseAddress string `default:"0x80400000" toml:"base_address" usage:"Load address of the first application"`
	Step        string `default:"0x20000" toml:"step" usage:"Address gap between two applications (also the image size limit)"`
	MaxApps     int    `default:"0" toml:"max_apps" usage:"Maximum number of applications, 0 disables the check"`
	Mode        string `default:"generate" toml:"mode" usage:"How the load address reaches the linker (generate or inplace)"`
	ScriptDir   string `default:"target/linker" toml:"script_dir" usage:"Output directory for generated linker scripts"`
	WorkDir     string `default:"." toml:"work_dir" usage:"Working directory for build commands"`
	TargetDir   string `default:"target/riscv64gc-unknown-none-elf/release" toml:"target_dir" usage:"Directory the compiler writes its artifacts to"`
	Arch        string `default:"riscv64" toml:"arch" usage:"Binary architecture passed to the converter"`

	BuildCommand   string `default:"RUSTFLAGS=\"-Clink-arg=-T$LINKER_SCRIPT -Cforce-frame-pointers=yes\" cargo build --bin \"$APP\" --release" toml:"build_command" usage:"Shell command that compiles $APP"`
	ConvertCommand string `default:"rust-objcopy --binary-architecture=$ARCH \"$ELF\" --strip-all -O binary \"$BIN\"" toml:"convert_command" usage:"Shell command that turns $ELF into $BIN, or builtin"`

	LinkApp   string `default:"" toml:"link_app" usage:"Write the kernel's link_app.S to this path after a successful build"`
	KeepGoing bool   `default:"false" toml:"keep_going" usage:"Continue with the next application after a failure"`

	Log struct {
		Level  string `default:"info" toml:"level"`
		Fields bool   `default:"false" toml:"fields" usage:"Print all fields and error stack traces"`
	} `toml:"log"`
}

var logLevels = map[string]zerolog.Level{
	"trace":   zerolog.TraceLevel,
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
	"fatal":   zerolog.FatalLevel,
}

// Loader initializes an empty config object and returns a new Loader for this object.
// Values are taken from the struct defaults, the passed files, APPBUILD_* environment
// variables, in that order.
func Loader(files ...string) (*Config, *aconfig.Loader) {
	cfg := Config{}
	return &cfg, aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "APPBUILD",
		SkipFlags: true,
		SkipFiles: len(files) == 0,
		Files:     files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
		},
	})
}

// Defaults returns a config that only contains the documented default values.
func Defaults() (*Config, error) {
	cfg := Config{}
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipFiles: true,
		SkipEnv:   true,
		SkipFlags: true,
	})

	if err := loader.Load(); err != nil {
		return nil, eris.Wrap(err, "failed to load defaults")
	}
	return &cfg, nil
}

func parseAddress(field, value string) (uint64, error) {
	result, err := strconv.ParseUint(value, 0, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "Invalid value for %s: %s", field, value)
	}
	return result, nil
}

// Base returns the parsed base address.
func (cfg *Config) Base() (uint64, error) {
	return parseAddress("base_address", cfg.BaseAddress)
}

// StepSize returns the parsed address step.
func (cfg *Config) StepSize() (uint64, error) {
	return parseAddress("step", cfg.Step)
}

// Validate verifies that all config fields have valid values
func (cfg *Config) Validate() error {
	base, err := cfg.Base()
	if err != nil {
		return err
	}

	step, err := cfg.StepSize()
	if err != nil {
		return err
	}

	if step == 0 {
		return eris.New("Invalid value for step: must be greater than zero")
	}

	if cfg.MaxApps < 0 {
		return eris.Errorf("Invalid value for max_apps: %d", cfg.MaxApps)
	}

	if cfg.MaxApps > 0 {
		// The last slot has to fit into the address space, not only its start.
		hi, lo := bits.Mul64(step, uint64(cfg.MaxApps))
		if hi != 0 {
			return eris.Errorf("max_apps %d with step %#x overflows the address space", cfg.MaxApps, step)
		}
		if _, carry := bits.Add64(base, lo-1, 0); carry != 0 {
			return eris.Errorf("max_apps %d with step %#x overflows the address space", cfg.MaxApps, step)
		}
	}

	switch cfg.Mode {
	case ModeGenerate, ModeInplace:
		// valid
	default:
		return eris.Errorf("Invalid value for mode: %s (must be one of %s or %s)", cfg.Mode, ModeGenerate, ModeInplace)
	}

	if cfg.SourceDir == "" {
		return eris.New("source_dir must not be empty")
	}

	if cfg.Linker == "" {
		return eris.New("linker must not be empty")
	}

	if cfg.BuildCommand == "" {
		return eris.New("build_command must not be empty")
	}

	if cfg.ConvertCommand == "" {
		return eris.New("convert_command must not be empty")
	}

	if _, ok := logLevels[cfg.Log.Level]; !ok {
		return eris.Errorf("Invalid value for log.level: %s", cfg.Log.Level)
	}

	return nil
}

// LogLevel converts the .Log.Level field to a zerolog.Level
func (cfg *Config) LogLevel() zerolog.Level {
	return logLevels[cfg.Log.Level]
}

// Resolve interprets relative paths as relative to WorkDir and returns an absolute path. The
// results are handed to commands that already run inside WorkDir.
func (cfg *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}

	path = filepath.Join(cfg.WorkDir, path)
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
