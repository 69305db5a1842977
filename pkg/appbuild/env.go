package appbuild

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
)

// mergeEnv returns the process environment with overrides applied. Overridden entries are
// dropped from the inherited list so that the shell doesn't see conflicting values.
func mergeEnv(overrides map[string]string) []string {
	osEnv := os.Environ()
	shellEnv := make([]string, 0, len(osEnv)+len(overrides))
	for _, item := range osEnv {
		parts := strings.SplitN(item, "=", 2)
		if runtime.GOOS == "windows" {
			parts[0] = strings.ToUpper(parts[0])
		}

		if _, present := overrides[parts[0]]; !present {
			shellEnv = append(shellEnv, item)
		}
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		shellEnv = append(shellEnv, fmt.Sprintf("%s=%s", k, overrides[k]))
	}

	return shellEnv
}

// ImagePaths returns the compiled artifact and the flat binary path for app.
func ImagePaths(targetDir, app string) (elf, bin string) {
	elf = filepath.Join(targetDir, app)
	return elf, elf + ".bin"
}

// AppEnv returns the variables that are exported to the build and convert commands.
func AppEnv(cfg *Config, app App, linkerScript string) map[string]string {
	targetDir := cfg.Resolve(cfg.TargetDir)
	elf, bin := ImagePaths(targetDir, app.Name)
	return map[string]string{
		"APP":           app.Name,
		"APP_INDEX":     strconv.Itoa(app.Index),
		"APP_ADDRESS":   HexLiteral(app.Address),
		"LINKER_SCRIPT": linkerScript,
		"TARGET_DIR":    targetDir,
		"ELF":           elf,
		"BIN":           bin,
		"ARCH":          cfg.Arch,
	}
}
