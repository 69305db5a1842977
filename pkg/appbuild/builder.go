package appbuild

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/multierr"
)

// ErrImageTooLarge is returned if a flat binary doesn't fit into its address slot.
var ErrImageTooLarge = eris.New("image exceeds its address slot")

// Result describes the outcome for a single application.
type Result struct {
	App   App
	Image string
	Size  int64
	Err   error
}

// Builder runs the per-application build loop.
type Builder struct {
	cfg      *Config
	runner   *Runner
	base     uint64
	step     uint64
	out      io.Writer
	color    bool
	progress *progressbar.ProgressBar
}

// Option customizes a Builder
type Option func(*Builder)

// WithStatusOutput sets the writer that receives the per-application status lines.
func WithStatusOutput(w io.Writer, color bool) Option {
	return func(b *Builder) {
		b.out = w
		b.color = color
	}
}

// WithProgress advances bar once per application.
func WithProgress(bar *progressbar.ProgressBar) Option {
	return func(b *Builder) {
		b.progress = bar
	}
}

// WithDryRun only prints what would happen.
func WithDryRun(dryRun bool) Option {
	return func(b *Builder) {
		b.runner.DryRun = dryRun
	}
}

// WithTool redirects mkdir, rm and mv inside build commands to the given executable.
func WithTool(path string) Option {
	return func(b *Builder) {
		b.runner.Tool = path
	}
}

// NewBuilder validates cfg and returns a Builder for it.
func NewBuilder(cfg *Config, opts ...Option) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base, err := cfg.Base()
	if err != nil {
		return nil, err
	}

	step, err := cfg.StepSize()
	if err != nil {
		return nil, err
	}

	b := &Builder{
		cfg:    cfg,
		runner: &Runner{Dir: cfg.WorkDir},
		base:   base,
		step:   step,
		out:    os.Stdout,
	}

	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// BuildAll discovers the applications described by cfg and builds all of them.
func BuildAll(ctx context.Context, cfg *Config, opts ...Option) ([]Result, error) {
	b, err := NewBuilder(cfg, opts...)
	if err != nil {
		return nil, err
	}

	apps, err := PlanFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	return b.Run(ctx, apps)
}

// Run builds apps one after another. The shared linker script is left exactly as it was found,
// no matter whether a step fails. Unless KeepGoing is set the first failure ends the run.
func (b *Builder) Run(ctx context.Context, apps []App) (results []Result, err error) {
	script, err := OpenLinkerScript(b.cfg.Resolve(b.cfg.Linker), b.base)
	if err != nil {
		return nil, err
	}
	defer func() {
		multierr.AppendInto(&err, script.Close())
	}()

	results = make([]Result, 0, len(apps))
	for _, app := range apps {
		if cErr := ctx.Err(); cErr != nil {
			return results, multierr.Append(err, eris.Wrap(cErr, "build interrupted"))
		}

		result := b.buildOne(ctx, script, app)
		results = append(results, result)
		if b.progress != nil {
			_ = b.progress.Add(1)
		}

		if result.Err != nil {
			log(ctx).Error().Err(result.Err).Str("app", app.Name).Msg("Build failed")
			err = multierr.Append(err, result.Err)
			if !b.cfg.KeepGoing {
				break
			}
		}
	}

	if err == nil && b.cfg.LinkApp != "" && !b.runner.DryRun {
		path := b.cfg.Resolve(b.cfg.LinkApp)
		err = WriteLinkAppFile(path, apps, b.cfg.Resolve(b.cfg.TargetDir))
		if err == nil {
			log(ctx).Info().Str("path", path).Msg("Wrote application table")
		}
	}

	return results, err
}

func (b *Builder) buildOne(ctx context.Context, script *LinkerScript, app App) (result Result) {
	result.App = app
	linkerPath := script.Path

	switch {
	case b.runner.DryRun:
		// nothing gets written
	case b.cfg.Mode == ModeInplace:
		err := script.Patch(ctx, b.base, app.Address)
		if err != nil {
			result.Err = multierr.Append(err, script.Restore())
			return
		}
		defer func() {
			multierr.AppendInto(&result.Err, script.Restore())
		}()
	default:
		path, err := script.Generate(b.cfg.Resolve(b.cfg.ScriptDir), app, b.base)
		if err != nil {
			result.Err = err
			return
		}
		linkerPath = path
	}

	env := AppEnv(b.cfg, app, linkerPath)
	result.Image = env["BIN"]

	log(ctx).Debug().
		Str("app", app.Name).
		Str("address", HexLiteral(app.Address)).
		Str("path", linkerPath).
		Msg("Building")

	err := b.runner.Run(ctx, StepBuild, app, b.cfg.BuildCommand, env)
	if err != nil {
		result.Err = err
		return
	}

	if b.cfg.ConvertCommand == BuiltinConverter {
		if !b.runner.DryRun {
			err = Objcopy(env["ELF"], env["BIN"])
		}
	} else {
		err = b.runner.Run(ctx, StepConvert, app, b.cfg.ConvertCommand, env)
	}
	if err != nil {
		result.Err = err
		return
	}

	if !b.runner.DryRun {
		info, err := os.Stat(result.Image)
		if err != nil {
			result.Err = eris.Wrapf(err, "%s didn't produce %s", app.Name, result.Image)
			return
		}

		result.Size = info.Size()
		if uint64(result.Size) > b.step {
			result.Err = eris.Wrapf(ErrImageTooLarge, "%s is %d bytes but the slot at %s only has %d", result.Image, result.Size, HexLiteral(app.Address), b.step)
			return
		}
	}

	b.printStatus(app)
	return
}

func (b *Builder) printStatus(app App) {
	if b.color {
		fmt.Fprint(b.out, colorstring.Color("[green][bold]==>[reset] "))
	}
	fmt.Fprintf(b.out, "[appbuild] application %s start with address %s\n", app.Name, HexLiteral(app.Address))
}
