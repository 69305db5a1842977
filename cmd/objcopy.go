package cmd

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ngld/appbuild/pkg/appbuild"
)

var objcopyCmd = &cobra.Command{
	Use:   "objcopy elf_file [bin_file]",
	Short: "Converts an ELF file into a flat binary image",
	Long: `Writes the loadable sections of the ELF file into a raw image and drops everything else.
The output defaults to the input name with .bin appended (or replacing .elf).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) < 1 || len(args) > 2 {
			return eris.Errorf("Expected 1 or 2 arguments but got %d!", len(args))
		}

		out := strings.TrimSuffix(args[0], ".elf") + ".bin"
		if len(args) == 2 {
			out = args[1]
		}

		return appbuild.Objcopy(args[0], out)
	},
}

func init() {
	rootCmd.AddCommand(objcopyCmd)
}
