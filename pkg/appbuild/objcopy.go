package appbuild

import (
	"bufio"
	"debug/elf"
	"io"
	"os"
	"sort"

	"github.com/rotisserie/eris"
)

type loadSection struct {
	name string
	addr uint64
	data []byte
}

func loadSections(f *elf.File) ([]loadSection, error) {
	sections := make([]loadSection, 0, len(f.Sections))
	for _, s := range f.Sections {
		if s.Type != elf.SHT_PROGBITS || s.Flags&elf.SHF_ALLOC == 0 || s.Size == 0 {
			continue
		}

		data, err := s.Data()
		if err != nil {
			return nil, eris.Wrapf(err, "failed to read section %s", s.Name)
		}
		sections = append(sections, loadSection{s.Name, s.Addr, data})
	}

	sort.SliceStable(sections, func(i, j int) bool {
		return sections[i].addr < sections[j].addr
	})
	return sections, nil
}

// Flatten writes the loadable sections of f as one raw image starting at the lowest section
// address. Gaps between sections are filled with zeros. It returns the load address of the image.
func Flatten(f *elf.File, w io.Writer) (uint64, error) {
	sections, err := loadSections(f)
	if err != nil {
		return 0, err
	}

	if len(sections) == 0 {
		return 0, nil
	}

	start := sections[0].addr
	pos := start
	for _, s := range sections {
		if s.addr < pos {
			return 0, eris.Errorf("section %s at %#x overlaps the previous section (ends at %#x)", s.name, s.addr, pos)
		}

		if gap := s.addr - pos; gap > 0 {
			_, err = w.Write(make([]byte, gap))
			if err != nil {
				return 0, err
			}
		}

		_, err = w.Write(s.data)
		if err != nil {
			return 0, err
		}
		pos = s.addr + uint64(len(s.data))
	}

	return start, nil
}

// Objcopy converts the ELF file at elfPath into a flat binary at binPath, dropping symbols and
// everything that isn't loaded at runtime.
func Objcopy(elfPath, binPath string) error {
	f, err := elf.Open(elfPath)
	if err != nil {
		return eris.Wrapf(err, "Failed to open %s", elfPath)
	}
	defer f.Close()

	out, err := os.Create(binPath)
	if err != nil {
		return eris.Wrapf(err, "Failed to create %s", binPath)
	}

	buffer := bufio.NewWriter(out)
	_, err = Flatten(f, buffer)
	if err == nil {
		err = buffer.Flush()
	}

	if err != nil {
		out.Close()
		os.Remove(binPath)
		return eris.Wrapf(err, "Failed to convert %s", elfPath)
	}

	if err = out.Close(); err != nil {
		return eris.Wrapf(err, "Failed to write %s", binPath)
	}
	return nil
}
