package appbuild

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/msoap/byline"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

const (
	StepBuild   = "build"
	StepConvert = "convert"

	outputTailLines = 20
)

// CommandError describes an external command that didn't exit cleanly.
type CommandError struct {
	App      string
	Step     string
	Command  string
	ExitCode int
	Output   []string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s step of %s failed with exit code %d: %s", e.Step, e.App, e.ExitCode, e.Command)
	if len(e.Output) > 0 {
		msg += "\n" + strings.Join(e.Output, "\n")
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Runner executes command templates through an embedded POSIX shell.
type Runner struct {
	// Dir is the working directory for every command.
	Dir string
	// Tool is the path of the appbuild executable. If set, mkdir, rm and mv are redirected to it.
	Tool string
	// DryRun only logs the commands.
	DryRun bool
}

var defaultExecHandler = interp.DefaultExecHandler(2)

func (r *Runner) execHandler(ctx context.Context, args []string) error {
	return defaultExecHandler(ctx, r.rewriteArgs(args))
}

// rewriteArgs makes sure that mkdir, rm and mv behave the same on every platform.
func (r *Runner) rewriteArgs(args []string) []string {
	if r.Tool == "" || len(args) == 0 {
		return args
	}

	switch args[0] {
	case "mkdir", "rm", "mv":
		return append([]string{r.Tool}, args...)
	}
	return args
}

var defaultOpenHandler = interp.DefaultOpenHandler()

func openHandler(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	if path == "/dev/null" {
		path = os.DevNull
	}

	return defaultOpenHandler(ctx, path, flag, perm)
}

// outputTail keeps the last few lines of a command's output for error reports.
type outputTail struct {
	lines []string
}

func (t *outputTail) add(line string) {
	t.lines = append(t.lines, line)
	if len(t.lines) > outputTailLines {
		t.lines = t.lines[len(t.lines)-outputTailLines:]
	}
}

// Run parses script and executes it statement by statement with env exported. A non-zero exit
// status is returned as *CommandError.
func (r *Runner) Run(ctx context.Context, step string, app App, script string, env map[string]string) error {
	parser := syntax.NewParser()
	file, err := parser.Parse(strings.NewReader(script), fmt.Sprintf("%s:%s", app.Name, step))
	if err != nil {
		return eris.Wrapf(err, "failed to parse %s command %s", step, script)
	}

	logger := log(ctx).With().Str("app", app.Name).Str("step", step).Logger()

	reader, writer := io.Pipe()
	tail := outputTail{}
	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := byline.NewReader(reader).Each(func(line []byte) {
			text := string(bytes.TrimRight(line, "\r\n"))
			tail.add(text)
			logger.Info().Msg(text)
		}).Discard()
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to read command output")
			_, _ = io.Copy(io.Discard, reader)
		}
	}()

	runErr := r.runStmts(ctx, &logger, file, env, writer)
	writer.Close()
	wg.Wait()

	if runErr == nil {
		return nil
	}

	if status, ok := interp.IsExitStatus(runErr); ok {
		return &CommandError{
			App:      app.Name,
			Step:     step,
			Command:  script,
			ExitCode: int(status),
			Output:   tail.lines,
			Err:      runErr,
		}
	}

	return eris.Wrapf(runErr, "%s step of %s failed", step, app.Name)
}

func (r *Runner) runStmts(ctx context.Context, logger *zerolog.Logger, file *syntax.File, env map[string]string, out io.Writer) error {
	runner, err := interp.New(
		interp.Dir(r.Dir),
		interp.Env(expand.ListEnviron(mergeEnv(env)...)),
		interp.ExecHandler(r.execHandler),
		interp.OpenHandler(openHandler),
		interp.StdIO(nil, out, out),
		interp.Params("-e"),
	)
	if err != nil {
		return eris.Wrap(err, "Failed to initialize runner")
	}

	printer := syntax.NewPrinter(syntax.Minify(true))
	strBuffer := strings.Builder{}

	for _, stmt := range file.Stmts {
		strBuffer.Reset()
		printer.Print(&strBuffer, stmt)
		logger.Info().
			Bool("command", true).
			Msg(strBuffer.String())

		if r.DryRun {
			continue
		}

		err = runner.Run(ctx, stmt)
		if err != nil {
			return err
		}

		if runner.Exited() {
			return nil
		}

		if err = ctx.Err(); err != nil {
			return err
		}
	}

	return nil
}
