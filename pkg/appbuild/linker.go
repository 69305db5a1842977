package appbuild

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/aidarkhanov/nanoid"
	"github.com/rotisserie/eris"
)

// ErrBaseAddressNotFound is returned if the linker script doesn't mention the base address.
var ErrBaseAddressNotFound = eris.New("base address not found in linker script")

// HexLiteral renders an address the way it appears in the linker script (i.e. 0x80400000).
func HexLiteral(addr uint64) string {
	return fmt.Sprintf("%#x", addr)
}

// SplitLines splits data into physical lines. Every line keeps its terminator so that
// joining the result yields data again.
func SplitLines(data []byte) [][]byte {
	lines := make([][]byte, 0, bytes.Count(data, []byte{'\n'})+1)
	for len(data) > 0 {
		pos := bytes.IndexByte(data, '\n')
		if pos < 0 {
			lines = append(lines, data)
			break
		}

		lines = append(lines, data[:pos+1])
		data = data[pos+1:]
	}
	return lines
}

// PatchLines replaces the base address literal with the literal for addr on every line.
// It returns the patched content and the number of replaced occurrences.
func PatchLines(data []byte, base, addr uint64) ([]byte, int) {
	old := []byte(HexLiteral(base))
	replacement := []byte(HexLiteral(addr))

	var out bytes.Buffer
	out.Grow(len(data))

	count := 0
	for _, line := range SplitLines(data) {
		count += bytes.Count(line, old)
		out.Write(bytes.ReplaceAll(line, old, replacement))
	}
	return out.Bytes(), count
}

// LinkerScript holds the original content of a linker script while it's being patched.
type LinkerScript struct {
	Path     string
	original []byte
	perm     fs.FileMode
	backup   string
	patched  bool
}

// OpenLinkerScript reads the script at path and checks that it contains the base address.
func OpenLinkerScript(path string, base uint64) (*LinkerScript, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to stat linker script %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to read linker script %s", path)
	}

	if !bytes.Contains(data, []byte(HexLiteral(base))) {
		return nil, eris.Wrapf(ErrBaseAddressNotFound, "%s doesn't contain %s", path, HexLiteral(base))
	}

	return &LinkerScript{
		Path:     path,
		original: data,
		perm:     info.Mode().Perm(),
	}, nil
}

// Original returns the content the script had when it was opened.
func (s *LinkerScript) Original() []byte {
	return s.original
}

// Render returns the script content for the given load address.
func (s *LinkerScript) Render(base, addr uint64) []byte {
	patched, _ := PatchLines(s.original, base, addr)
	return patched
}

// Patch overwrites the script with the version for addr. The first call leaves a backup copy
// of the original next to the script which Close removes again.
func (s *LinkerScript) Patch(ctx context.Context, base, addr uint64) error {
	if s.backup == "" {
		s.backup = fmt.Sprintf("%s.%s.bak", s.Path, nanoid.New())
		err := os.WriteFile(s.backup, s.original, s.perm)
		if err != nil {
			s.backup = ""
			return eris.Wrapf(err, "Failed to back up %s", s.Path)
		}

		log(ctx).Debug().Str("path", s.backup).Msg("Created linker script backup")
	}

	s.patched = true
	err := os.WriteFile(s.Path, s.Render(base, addr), s.perm)
	if err != nil {
		return eris.Wrapf(err, "Failed to patch %s", s.Path)
	}
	return nil
}

// Restore writes the original content back.
func (s *LinkerScript) Restore() error {
	if !s.patched {
		return nil
	}

	err := os.WriteFile(s.Path, s.original, s.perm)
	if err != nil {
		return eris.Wrapf(err, "Failed to restore %s (a copy of the original is at %s)", s.Path, s.backup)
	}

	s.patched = false
	return nil
}

// Close restores the script if necessary and removes the backup.
func (s *LinkerScript) Close() error {
	if err := s.Restore(); err != nil {
		return err
	}

	if s.backup != "" {
		err := os.Remove(s.backup)
		if err != nil && !eris.Is(err, os.ErrNotExist) {
			return eris.Wrapf(err, "Failed to remove backup %s", s.backup)
		}
		s.backup = ""
	}
	return nil
}

// Generate writes the script for app to <dir>/<app>.ld and returns the path.
func (s *LinkerScript) Generate(dir string, app App, base uint64) (string, error) {
	err := os.MkdirAll(dir, 0770)
	if err != nil {
		return "", eris.Wrapf(err, "Failed to create %s", dir)
	}

	path := filepath.Join(dir, app.Name+".ld")
	err = os.WriteFile(path, s.Render(base, app.Address), 0660)
	if err != nil {
		return "", eris.Wrapf(err, "Failed to write %s", path)
	}
	return path, nil
}
