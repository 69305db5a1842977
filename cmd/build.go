package cmd

import (
	"os"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/ngld/appbuild/pkg/appbuild"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Builds all applications",
	Long: `Discovers the applications in the source directory, compiles each of them for its own
load address and converts the result into a flat binary.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		dryRun, err := cmd.Flags().GetBool("dry")
		if err != nil {
			return err
		}

		if err = applyBuildFlags(cmd, cfg); err != nil {
			return err
		}

		if err = cfg.Validate(); err != nil {
			return err
		}

		ctx, logger, cancel := commandContext(cfg)
		defer cancel()

		apps, err := appbuild.PlanFromConfig(cfg)
		if err != nil {
			return err
		}

		tool, err := os.Executable()
		if err != nil {
			return err
		}

		builder, err := appbuild.NewBuilder(cfg,
			appbuild.WithDryRun(dryRun),
			appbuild.WithTool(tool),
			appbuild.WithStatusOutput(os.Stdout, isatty.IsTerminal(os.Stdout.Fd())),
			appbuild.WithProgress(getProgressBar(len(apps), "building")),
		)
		if err != nil {
			return err
		}

		results, err := builder.Run(ctx, apps)
		failed := 0
		for _, result := range results {
			if result.Err != nil {
				failed++
			}
		}

		if err != nil {
			logger.Error().Msgf("%d of %d applications failed", failed, len(apps))
			return err
		}

		logger.Info().Msgf("Built %d applications", len(results))
		return nil
	},
}

func init() {
	buildCmd.Flags().BoolP("dry", "n", false, "dry run; only print the commands, don't execute anything")
	buildCmd.Flags().BoolP("keep-going", "k", false, "continue with the next application after a failure")
	buildCmd.Flags().String("mode", "", "how the load address reaches the linker (generate or inplace)")
	buildCmd.Flags().String("link-app", "", "write the kernel's link_app.S to this path")

	rootCmd.AddCommand(buildCmd)
}

func applyBuildFlags(cmd *cobra.Command, cfg *appbuild.Config) error {
	if cmd.Flags().Changed("keep-going") {
		keepGoing, err := cmd.Flags().GetBool("keep-going")
		if err != nil {
			return err
		}
		cfg.KeepGoing = keepGoing
	}

	mode, err := cmd.Flags().GetString("mode")
	if err != nil {
		return err
	}
	if mode != "" {
		cfg.Mode = mode
	}

	linkApp, err := cmd.Flags().GetString("link-app")
	if err != nil {
		return err
	}
	if linkApp != "" {
		cfg.LinkApp = linkApp
	}

	return nil
}

func getProgressBar(length int, desc string) *progressbar.ProgressBar {
	if os.Getenv("CI") == "true" || !isatty.IsTerminal(os.Stderr.Fd()) {
		return progressbar.NewOptions(length, progressbar.OptionSetVisibility(false))
	}

	return progressbar.NewOptions(length,
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() {
			os.Stderr.WriteString("\n")
		}),
	)
}
