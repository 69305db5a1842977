package appbuild

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLoadAddress = 0x80400000

type testSection struct {
	name  string
	typ   elf.SectionType
	flags elf.SectionFlag
	addr  uint64
	data  []byte
	size  uint64
}

// buildELF assembles a little endian ELF64 RISC-V executable that only has section headers.
func buildELF(t *testing.T, sections []testSection) []byte {
	t.Helper()

	const headerSize = 64

	shstrtab := []byte{0}
	nameOffsets := make([]uint32, len(sections))
	for i, s := range sections {
		nameOffsets[i] = uint32(len(shstrtab))
		shstrtab = append(append(shstrtab, s.name...), 0)
	}
	shstrtabName := uint32(len(shstrtab))
	shstrtab = append(shstrtab, ".shstrtab\x00"...)

	body := &bytes.Buffer{}
	offsets := make([]uint64, len(sections))
	for i, s := range sections {
		offsets[i] = uint64(headerSize + body.Len())
		body.Write(s.data)
	}
	shstrtabOffset := uint64(headerSize + body.Len())
	body.Write(shstrtab)
	for (headerSize+body.Len())%8 != 0 {
		body.WriteByte(0)
	}

	header := elf.Header64{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_RISCV),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     testLoadAddress,
		Shoff:     uint64(headerSize + body.Len()),
		Ehsize:    headerSize,
		Phentsize: 56,
		Shentsize: 64,
		Shnum:     uint16(len(sections) + 2),
		Shstrndx:  uint16(len(sections) + 1),
	}
	copy(header.Ident[:], elf.ELFMAG)
	header.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	header.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	header.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	headers := []elf.Section64{{}}
	for i, s := range sections {
		size := s.size
		if size == 0 {
			size = uint64(len(s.data))
		}
		headers = append(headers, elf.Section64{
			Name:      nameOffsets[i],
			Type:      uint32(s.typ),
			Flags:     uint64(s.flags),
			Addr:      s.addr,
			Off:       offsets[i],
			Size:      size,
			Addralign: 1,
		})
	}
	headers = append(headers, elf.Section64{
		Name:      shstrtabName,
		Type:      uint32(elf.SHT_STRTAB),
		Off:       shstrtabOffset,
		Size:      uint64(len(shstrtab)),
		Addralign: 1,
	})

	out := &bytes.Buffer{}
	require.NoError(t, binary.Write(out, binary.LittleEndian, header))
	out.Write(body.Bytes())
	require.NoError(t, binary.Write(out, binary.LittleEndian, headers))
	return out.Bytes()
}

func testProgram() []testSection {
	return []testSection{
		{name: ".data", typ: elf.SHT_PROGBITS, flags: elf.SHF_ALLOC | elf.SHF_WRITE, addr: testLoadAddress + 8, data: []byte("xy")},
		{name: ".text", typ: elf.SHT_PROGBITS, flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, addr: testLoadAddress, data: []byte("abcd")},
		{name: ".comment", typ: elf.SHT_PROGBITS, data: []byte("rustc\x00")},
		{name: ".bss", typ: elf.SHT_NOBITS, flags: elf.SHF_ALLOC | elf.SHF_WRITE, addr: testLoadAddress + 16, size: 32},
	}
}

func TestFlatten(t *testing.T) {
	f, err := elf.NewFile(bytes.NewReader(buildELF(t, testProgram())))
	require.NoError(t, err)

	out := &bytes.Buffer{}
	start, err := Flatten(f, out)
	require.NoError(t, err)
	assert.Equal(t, uint64(testLoadAddress), start)
	assert.Equal(t, []byte("abcd\x00\x00\x00\x00xy"), out.Bytes())
}

func TestFlattenOverlap(t *testing.T) {
	sections := testProgram()
	sections[0].addr = testLoadAddress + 2

	f, err := elf.NewFile(bytes.NewReader(buildELF(t, sections)))
	require.NoError(t, err)

	_, err = Flatten(f, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overlaps")
}

func TestFlattenNothingLoadable(t *testing.T) {
	f, err := elf.NewFile(bytes.NewReader(buildELF(t, testProgram()[2:])))
	require.NoError(t, err)

	out := &bytes.Buffer{}
	start, err := Flatten(f, out)
	require.NoError(t, err)
	assert.Zero(t, start)
	assert.Zero(t, out.Len())
}

func TestObjcopy(t *testing.T) {
	dir := t.TempDir()
	elfPath := filepath.Join(dir, "initproc")
	binPath := filepath.Join(dir, "initproc.bin")
	require.NoError(t, os.WriteFile(elfPath, buildELF(t, testProgram()), 0644))

	require.NoError(t, Objcopy(elfPath, binPath))

	data, err := os.ReadFile(binPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcd\x00\x00\x00\x00xy"), data)
}

func TestObjcopyInvalidInput(t *testing.T) {
	dir := t.TempDir()
	elfPath := filepath.Join(dir, "initproc")
	binPath := filepath.Join(dir, "initproc.bin")
	require.NoError(t, os.WriteFile(elfPath, []byte("#!/bin/sh\n"), 0644))

	err := Objcopy(elfPath, binPath)
	require.Error(t, err)
	assert.NoFileExists(t, binPath)
}

func TestObjcopyRemovesPartialOutput(t *testing.T) {
	sections := testProgram()
	sections[0].addr = testLoadAddress + 2

	dir := t.TempDir()
	elfPath := filepath.Join(dir, "initproc")
	binPath := filepath.Join(dir, "initproc.bin")
	require.NoError(t, os.WriteFile(elfPath, buildELF(t, sections), 0644))

	require.Error(t, Objcopy(elfPath, binPath))
	assert.NoFileExists(t, binPath)
}
