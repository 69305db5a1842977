package appbuild

import (
	"archive/tar"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/rotisserie/eris"
	"github.com/ulikunitz/xz"
)

// karEntry contains the metadata for a file entry
type karEntry struct {
	offset  int32
	size    int32
	decSize int32
}

// KarWriter writes flat .kar archives: a 16 byte header ("KNAR", version, TOC offset, item count),
// the brotli compressed file contents and a table of contents at the end.
type KarWriter struct {
	hdl    *os.File
	files  map[string]*karEntry
	buffer []byte
}

// NewKarWriter creates a new KarWriter instance and opens it for writing
func NewKarWriter(filename string) (*KarWriter, error) {
	hdl, err := os.Create(filename)
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to create %s", filename)
	}

	// skip the header which consists of 4 chars and 3 int32s
	_, err = hdl.Seek(int64(4+12), io.SeekStart)
	if err != nil {
		hdl.Close()
		return nil, err
	}

	return &KarWriter{
		hdl:    hdl,
		files:  map[string]*karEntry{},
		buffer: make([]byte, 4096),
	}, nil
}

// WriteFile compresses the content of reader into the archive under filename
func (w *KarWriter) WriteFile(filename string, reader io.Reader) error {
	offset, err := w.hdl.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	brw := brotli.NewWriterLevel(w.hdl, brotli.BestCompression)
	decSize, err := io.CopyBuffer(brw, reader, w.buffer)
	if err != nil {
		return err
	}

	err = brw.Close()
	if err != nil {
		return err
	}

	newPos, err := w.hdl.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	w.files[filename] = &karEntry{
		offset:  int32(offset),
		size:    int32(newPos - offset),
		decSize: int32(decSize),
	}
	return nil
}

// Close writes the table of contents and the header and closes the archive
func (w *KarWriter) Close() error {
	tocOffset, err := w.hdl.Seek(0, io.SeekCurrent)
	if err != nil {
		w.hdl.Close()
		return err
	}

	names := make([]string, 0, len(w.files))
	for name := range w.files {
		names = append(names, name)
	}
	sort.Strings(names)

	buffer := make([]byte, 16)
	for _, name := range names {
		entry := w.files[name]
		binary.LittleEndian.PutUint32(buffer[:4], uint32(entry.offset))
		binary.LittleEndian.PutUint32(buffer[4:8], uint32(entry.size))
		binary.LittleEndian.PutUint32(buffer[8:12], uint32(entry.decSize))
		binary.LittleEndian.PutUint16(buffer[12:14], uint16(len(name)))
		if _, err = w.hdl.Write(buffer[:14]); err == nil {
			_, err = w.hdl.WriteString(name)
		}
		if err != nil {
			w.hdl.Close()
			return err
		}
	}

	_, err = w.hdl.Seek(0, io.SeekStart)
	if err != nil {
		w.hdl.Close()
		return err
	}

	copy(buffer[:4], "KNAR")
	binary.LittleEndian.PutUint32(buffer[4:8], 2)
	binary.LittleEndian.PutUint32(buffer[8:12], uint32(tocOffset))
	binary.LittleEndian.PutUint32(buffer[12:16], uint32(len(names)))

	_, err = w.hdl.Write(buffer)
	if err != nil {
		w.hdl.Close()
		return err
	}

	return w.hdl.Close()
}

func packKar(archive string, images map[string]string, names []string) error {
	writer, err := NewKarWriter(archive)
	if err != nil {
		return err
	}

	for _, name := range names {
		f, err := os.Open(images[name])
		if err != nil {
			writer.Close()
			return eris.Wrapf(err, "Failed to open %s", images[name])
		}

		err = writer.WriteFile(name, f)
		f.Close()
		if err != nil {
			writer.Close()
			return eris.Wrapf(err, "Failed to pack %s", images[name])
		}
	}

	if err = writer.Close(); err != nil {
		return eris.Wrapf(err, "Failed to finish %s", archive)
	}
	return nil
}

func packTarXz(archive string, images map[string]string, names []string) (err error) {
	hdl, err := os.Create(archive)
	if err != nil {
		return eris.Wrapf(err, "Failed to create %s", archive)
	}
	defer func() {
		if cErr := hdl.Close(); err == nil && cErr != nil {
			err = eris.Wrapf(cErr, "Failed to write %s", archive)
		}
	}()

	xzw, err := xz.NewWriter(hdl)
	if err != nil {
		return eris.Wrap(err, "Failed to initialize xz stream")
	}

	tw := tar.NewWriter(xzw)
	for _, name := range names {
		info, err := os.Stat(images[name])
		if err != nil {
			return eris.Wrapf(err, "Failed to stat %s", images[name])
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return eris.Wrapf(err, "Failed to build tar header for %s", images[name])
		}
		header.Name = name

		if err = tw.WriteHeader(header); err != nil {
			return eris.Wrapf(err, "Failed to write tar header for %s", name)
		}

		f, err := os.Open(images[name])
		if err != nil {
			return eris.Wrapf(err, "Failed to open %s", images[name])
		}

		_, err = io.Copy(tw, f)
		f.Close()
		if err != nil {
			return eris.Wrapf(err, "Failed to pack %s", images[name])
		}
	}

	if err = tw.Close(); err != nil {
		return eris.Wrap(err, "Failed to finish tar stream")
	}

	if err = xzw.Close(); err != nil {
		return eris.Wrap(err, "Failed to finish xz stream")
	}
	return nil
}

// Pack bundles the flat binary of every application into archive. The format is picked by the
// extension: .kar (brotli) or .tar.xz / .txz.
func Pack(archive string, apps []App, imageDir string) error {
	images := make(map[string]string, len(apps))
	names := make([]string, 0, len(apps))
	for _, app := range apps {
		_, bin := ImagePaths(imageDir, app.Name)
		name := filepath.Base(bin)
		if _, dup := images[name]; !dup {
			names = append(names, name)
		}
		images[name] = bin
	}

	lower := strings.ToLower(archive)
	switch {
	case strings.HasSuffix(lower, ".kar"):
		return packKar(archive, images, names)
	case strings.HasSuffix(lower, ".tar.xz"), strings.HasSuffix(lower, ".txz"):
		return packTarXz(archive, images, names)
	}

	return eris.Errorf("Unsupported archive type %s (use .kar or .tar.xz)", archive)
}
