package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ngld/appbuild/pkg/appbuild"
)

var rootCmd = &cobra.Command{
	Use:   "appbuild",
	Short: "Builds the user applications of the kernel",
	Long: `Compiles every application in the source directory with its own load address,
converts the results to flat binaries and optionally generates the kernel's application table.

Settings are read from appbuild.toml (or the file passed with --config) and APPBUILD_* environment
variables; flags override both.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default: "+appbuild.ConfigFile+" if present)")
	rootCmd.PersistentFlags().StringP("workdir", "C", "", "run as if started in this directory")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
}

// loadConfig reads the configuration and applies the global flags.
func loadConfig(cmd *cobra.Command) (*appbuild.Config, error) {
	workDir, err := cmd.Flags().GetString("workdir")
	if err != nil {
		return nil, err
	}

	cfgFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	files := []string{}
	if cfgFile != "" {
		files = append(files, cfgFile)
	} else {
		defaultFile := appbuild.ConfigFile
		if workDir != "" {
			defaultFile = filepath.Join(workDir, defaultFile)
		}

		_, err = os.Stat(defaultFile)
		if err == nil {
			files = append(files, defaultFile)
		} else if !eris.Is(err, os.ErrNotExist) {
			return nil, eris.Wrapf(err, "Failed to check %s", defaultFile)
		}
	}

	cfg, loader := appbuild.Loader(files...)
	if err = loader.Load(); err != nil {
		return nil, eris.Wrap(err, "Failed to load configuration")
	}

	if workDir != "" {
		cfg.WorkDir = workDir
	}

	level, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, err
	}
	if level != "" {
		cfg.Log.Level = level
	}

	return cfg, nil
}

// commandContext returns a context that is cancelled on SIGINT and carries the console logger.
func commandContext(cfg *appbuild.Config) (context.Context, *zerolog.Logger, context.CancelFunc) {
	writer := NewConsoleWriter()
	writer.ShowFields = cfg.Log.Fields
	setErrorFormat(cfg.Log.Fields)

	logger := zerolog.New(writer).Level(cfg.LogLevel())
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	return appbuild.WithLogger(ctx, &logger), &logger, cancel
}

func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}
