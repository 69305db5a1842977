package appbuild

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rotisserie/eris"
)

// WriteLinkApp writes the assembly that embeds all application images into the kernel.
// _num_app holds the number of applications followed by the start address of every image
// and the end address of the last one. _app_names holds the NUL terminated names in the same order.
func WriteLinkApp(w io.Writer, apps []App, imageDir string) error {
	out := bufio.NewWriter(w)

	fmt.Fprint(out, "    .align 3\n    .section .data\n    .global _num_app\n_num_app:\n")
	fmt.Fprintf(out, "    .quad %d\n", len(apps))
	for _, app := range apps {
		fmt.Fprintf(out, "    .quad app_%d_start\n", app.Index)
	}
	if len(apps) > 0 {
		fmt.Fprintf(out, "    .quad app_%d_end\n", apps[len(apps)-1].Index)
	}

	fmt.Fprint(out, "\n    .global _app_names\n_app_names:\n")
	for _, app := range apps {
		fmt.Fprintf(out, "    .string %s\n", strconv.Quote(app.Name))
	}

	for _, app := range apps {
		_, bin := ImagePaths(imageDir, app.Name)
		fmt.Fprintf(out, `
    .section .data
    .global app_%[1]d_start
    .global app_%[1]d_end
    .align 3
app_%[1]d_start:
    .incbin %[2]s
app_%[1]d_end:
`, app.Index, strconv.Quote(filepath.ToSlash(bin)))
	}

	return out.Flush()
}

// WriteLinkAppFile writes the link_app.S for apps to path.
func WriteLinkAppFile(path string, apps []App, imageDir string) error {
	err := os.MkdirAll(filepath.Dir(path), 0770)
	if err != nil {
		return eris.Wrapf(err, "Failed to create directory for %s", path)
	}

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "Failed to create %s", path)
	}

	err = WriteLinkApp(f, apps, imageDir)
	if err != nil {
		f.Close()
		return eris.Wrapf(err, "Failed to write %s", path)
	}

	if err = f.Close(); err != nil {
		return eris.Wrapf(err, "Failed to write %s", path)
	}
	return nil
}
