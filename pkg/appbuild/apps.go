package appbuild

import (
	"fmt"
	"math/bits"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrTooManyApps is returned when more applications were found than the kernel has slots for.
var ErrTooManyApps = eris.New("too many applications")

// App is a single application together with its slot.
type App struct {
	Name    string
	Source  string
	Index   int
	Address uint64
}

// String returns "name@0xaddress"
func (a App) String() string {
	return fmt.Sprintf("%s@%#x", a.Name, a.Address)
}

// AppName returns the part of a file name before its first dot.
func AppName(filename string) string {
	pos := strings.Index(filename, ".")
	if pos < 0 {
		return filename
	}
	return filename[:pos]
}

type discovered struct {
	name   string
	source string
}

func listDir(dir string) ([]discovered, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to read application directory %s", dir)
	}

	result := make([]discovered, 0, len(entries))
	for _, entry := range entries {
		result = append(result, discovered{
			name:   AppName(entry.Name()),
			source: entry.Name(),
		})
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].name < result[j].name
	})
	return result, nil
}

// DiscoverApps lists sourceDir and returns the sorted application names.
func DiscoverApps(sourceDir string) ([]string, error) {
	items, err := listDir(sourceDir)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(items))
	for idx, item := range items {
		names[idx] = item.name
	}
	return names, nil
}

// LoadAddress computes base + step*index and fails if the result doesn't fit into 64 bits.
func LoadAddress(base, step uint64, index int) (uint64, error) {
	if index < 0 {
		return 0, eris.Errorf("invalid application index %d", index)
	}

	hi, offset := bits.Mul64(step, uint64(index))
	if hi != 0 {
		return 0, eris.Errorf("address of application %d overflows (base %#x, step %#x)", index, base, step)
	}

	addr, carry := bits.Add64(base, offset, 0)
	if carry != 0 {
		return 0, eris.Errorf("address of application %d overflows (base %#x, step %#x)", index, base, step)
	}
	return addr, nil
}

// Plan assigns an index and a load address to every name. The names have to be sorted already.
func Plan(names []string, base, step uint64) ([]App, error) {
	apps := make([]App, len(names))
	for idx, name := range names {
		addr, err := LoadAddress(base, step, idx)
		if err != nil {
			return nil, err
		}

		apps[idx] = App{
			Name:    name,
			Index:   idx,
			Address: addr,
		}
	}
	return apps, nil
}

// PlanFromConfig discovers the applications in cfg.SourceDir and assigns their slots.
func PlanFromConfig(cfg *Config) ([]App, error) {
	base, err := cfg.Base()
	if err != nil {
		return nil, err
	}

	step, err := cfg.StepSize()
	if err != nil {
		return nil, err
	}

	sourceDir := cfg.Resolve(cfg.SourceDir)
	items, err := listDir(sourceDir)
	if err != nil {
		return nil, err
	}

	if cfg.MaxApps > 0 && len(items) > cfg.MaxApps {
		return nil, eris.Wrapf(ErrTooManyApps, "found %d applications in %s but only %d are allowed", len(items), sourceDir, cfg.MaxApps)
	}

	names := make([]string, len(items))
	for idx, item := range items {
		names[idx] = item.name
	}

	apps, err := Plan(names, base, step)
	if err != nil {
		return nil, err
	}

	for idx := range apps {
		apps[idx].Source = items[idx].source
	}
	return apps, nil
}
