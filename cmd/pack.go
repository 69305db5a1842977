package cmd

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ngld/appbuild/pkg/appbuild"
)

var packCmd = &cobra.Command{
	Use:   "pack archive_name",
	Short: "Packs the flat binary of every application into an archive",
	Long: `Pass the name of the archive that should be generated. Names ending in .kar produce a
brotli compressed .kar archive, names ending in .tar.xz or .txz an xz compressed tarball.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return eris.New("Expected 1 argument!")
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		if err = cfg.Validate(); err != nil {
			return err
		}

		apps, err := appbuild.PlanFromConfig(cfg)
		if err != nil {
			return err
		}

		return appbuild.Pack(args[0], apps, cfg.Resolve(cfg.TargetDir))
	},
}

func init() {
	rootCmd.AddCommand(packCmd)
}
