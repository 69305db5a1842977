package cmd

import (
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ngld/appbuild/pkg/appbuild"
)

type planEntry struct {
	Name    string `yaml:"name"`
	Source  string `yaml:"source"`
	Index   int    `yaml:"index"`
	Address string `yaml:"address"`
}

type planDoc struct {
	Base   string      `yaml:"base"`
	Step   string      `yaml:"step"`
	Linker string      `yaml:"linker"`
	Mode   string      `yaml:"mode"`
	Apps   []planEntry `yaml:"apps"`
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Lists the applications and their load addresses",
	RunE: func(cmd *cobra.Command, args []string) error {
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

		asYaml, err := cmd.Flags().GetBool("yaml")
		if err != nil {
			return err
		}

		if asYaml {
			return writePlanYaml(cmd.OutOrStdout(), cfg, apps)
		}

		writePlanTable(cmd.OutOrStdout(), apps)
		return nil
	},
}

func init() {
	planCmd.Flags().Bool("yaml", false, "print the plan as YAML")

	rootCmd.AddCommand(planCmd)
}

func writePlanTable(w io.Writer, apps []appbuild.App) {
	maxNameLen := 0
	for _, app := range apps {
		if len(app.Name) > maxNameLen {
			maxNameLen = len(app.Name)
		}
	}

	lineFmt := fmt.Sprintf(" %%3d  %%-%ds %%s\n", maxNameLen+3)
	for _, app := range apps {
		fmt.Fprintf(w, lineFmt, app.Index, app.Name, appbuild.HexLiteral(app.Address))
	}
}

func writePlanYaml(w io.Writer, cfg *appbuild.Config, apps []appbuild.App) error {
	doc := planDoc{
		Base:   cfg.BaseAddress,
		Step:   cfg.Step,
		Linker: cfg.Linker,
		Mode:   cfg.Mode,
		Apps:   make([]planEntry, len(apps)),
	}

	for idx, app := range apps {
		doc.Apps[idx] = planEntry{
			Name:    app.Name,
			Source:  app.Source,
			Index:   app.Index,
			Address: appbuild.HexLiteral(app.Address),
		}
	}

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(doc); err != nil {
		return eris.Wrap(err, "failed to encode plan")
	}
	return encoder.Close()
}
