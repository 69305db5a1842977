package cmd

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ngld/appbuild/pkg/appbuild"
)

var linkAppsCmd = &cobra.Command{
	Use:   "link-apps [output file]",
	Short: "Generates the assembly that embeds all application images into the kernel",
	Long: `Writes a link_app.S that defines _num_app, _app_names and one data block per
application image. The output path defaults to the link_app setting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) > 1 {
			return eris.Errorf("Expected at most 1 argument but got %d!", len(args))
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		if len(args) == 1 {
			cfg.LinkApp = args[0]
		}

		if cfg.LinkApp == "" {
			return eris.New("No output file given and link_app isn't configured")
		}

		if err = cfg.Validate(); err != nil {
			return err
		}

		apps, err := appbuild.PlanFromConfig(cfg)
		if err != nil {
			return err
		}

		return appbuild.WriteLinkAppFile(cfg.Resolve(cfg.LinkApp), apps, cfg.Resolve(cfg.TargetDir))
	},
}

func init() {
	rootCmd.AddCommand(linkAppsCmd)
}
