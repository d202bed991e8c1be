package build

import (
	"encoding/binary"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/andybalholm/brotli"
	"github.com/rotisserie/eris"
)

// Sysroot snapshots (.srp) pack an entire sysroot tree into a single file:
// brotli-compressed blobs back to back, followed by a table of contents.
// The sysroot contains symlinks (ld.so, versioned .so names) and executable
// loaders, so entries carry link targets and permission bits; plain tarballs
// would work too but snapshots extract faster and compress better for the
// mostly-ELF content.

const snapshotVersion = 1

var snapshotMagic = [4]byte{'S', 'R', 'P', '1'}

const (
	entryFile byte = iota
	entryDirOpen
	entryDirClose
	entrySymlink
)

type snapshotEntry struct {
	kind    byte
	offset  uint32
	size    uint32
	decSize uint32
	mode    uint32
	name    string
	target  string
}

// SnapshotWriter writes .srp archives.
type SnapshotWriter struct {
	hdl     *os.File
	entries []snapshotEntry
	depth   int
	buffer  []byte
}

// NewSnapshotWriter creates the archive file and prepares it for writing.
func NewSnapshotWriter(filename string) (*SnapshotWriter, error) {
	hdl, err := os.Create(filename)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to create %s", filename)
	}

	// leave room for the header (magic + version + toc offset + entry count)
	_, err = hdl.Seek(16, io.SeekStart)
	if err != nil {
		hdl.Close()
		return nil, err
	}

	return &SnapshotWriter{
		hdl:    hdl,
		buffer: make([]byte, 4096),
	}, nil
}

// OpenDirectory starts a new directory entry. Everything written until the
// matching CloseDirectory call lands inside it.
func (w *SnapshotWriter) OpenDirectory(name string, mode fs.FileMode) {
	w.entries = append(w.entries, snapshotEntry{
		kind: entryDirOpen,
		mode: uint32(mode.Perm()),
		name: name,
	})
	w.depth++
}

// CloseDirectory closes the directory that was last opened.
func (w *SnapshotWriter) CloseDirectory() error {
	if w.depth < 1 {
		return eris.New("no directory left on the stack")
	}

	w.entries = append(w.entries, snapshotEntry{kind: entryDirClose})
	w.depth--
	return nil
}

// WriteFile compresses the passed content into the current directory.
func (w *SnapshotWriter) WriteFile(name string, mode fs.FileMode, content io.Reader) error {
	offset, err := w.hdl.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	brw := brotli.NewWriterLevel(w.hdl, brotli.BestCompression)
	decSize, err := io.CopyBuffer(brw, content, w.buffer)
	if err != nil {
		return eris.Wrapf(err, "failed to compress %s", name)
	}

	err = brw.Close()
	if err != nil {
		return err
	}

	end, err := w.hdl.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	w.entries = append(w.entries, snapshotEntry{
		kind:    entryFile,
		offset:  uint32(offset),
		size:    uint32(end - offset),
		decSize: uint32(decSize),
		mode:    uint32(mode.Perm()),
		name:    name,
	})
	return nil
}

// WriteSymlink records a symlink entry in the current directory. The target
// is stored verbatim; relative targets stay relative.
func (w *SnapshotWriter) WriteSymlink(name, target string) {
	w.entries = append(w.entries, snapshotEntry{
		kind:   entrySymlink,
		name:   name,
		target: target,
	})
}

// Close writes the table of contents and the header.
func (w *SnapshotWriter) Close() error {
	if w.depth != 0 {
		w.hdl.Close()
		return eris.New("open directories left over")
	}

	tocOffset, err := w.hdl.Seek(0, io.SeekCurrent)
	if err != nil {
		w.hdl.Close()
		return err
	}

	buffer := make([]byte, 18)
	for _, entry := range w.entries {
		buffer[0] = entry.kind
		binary.LittleEndian.PutUint32(buffer[1:5], entry.offset)
		binary.LittleEndian.PutUint32(buffer[5:9], entry.size)
		binary.LittleEndian.PutUint32(buffer[9:13], entry.decSize)
		binary.LittleEndian.PutUint32(buffer[13:17], entry.mode)

		_, err = w.hdl.Write(buffer[:17])
		if err != nil {
			w.hdl.Close()
			return err
		}

		err = writeSnapshotString(w.hdl, buffer, entry.name)
		if err != nil {
			w.hdl.Close()
			return err
		}

		if entry.kind == entrySymlink {
			err = writeSnapshotString(w.hdl, buffer, entry.target)
			if err != nil {
				w.hdl.Close()
				return err
			}
		}
	}

	copy(buffer[0:4], snapshotMagic[:])
	binary.LittleEndian.PutUint32(buffer[4:8], snapshotVersion)
	binary.LittleEndian.PutUint32(buffer[8:12], uint32(tocOffset))
	binary.LittleEndian.PutUint32(buffer[12:16], uint32(len(w.entries)))

	_, err = w.hdl.Seek(0, io.SeekStart)
	if err != nil {
		w.hdl.Close()
		return err
	}

	_, err = w.hdl.Write(buffer[:16])
	if err != nil {
		w.hdl.Close()
		return err
	}

	return w.hdl.Close()
}

func writeSnapshotString(hdl *os.File, buffer []byte, value string) error {
	binary.LittleEndian.PutUint16(buffer[:2], uint16(len(value)))
	_, err := hdl.Write(buffer[:2])
	if err != nil {
		return err
	}

	_, err = hdl.WriteString(value)
	return err
}

// PackTree writes the passed directory tree into a snapshot archive.
// Entries are emitted in sorted order so identical trees produce identical
// archives.
func PackTree(archive, root string) error {
	writer, err := NewSnapshotWriter(archive)
	if err != nil {
		return err
	}

	err = packDir(writer, root)
	if err != nil {
		writer.hdl.Close()
		return err
	}

	return writer.Close()
}

func packDir(writer *SnapshotWriter, dir string) error {
	items, err := os.ReadDir(dir)
	if err != nil {
		return eris.Wrapf(err, "failed to read %s", dir)
	}

	sort.Slice(items, func(a, b int) bool { return items[a].Name() < items[b].Name() })

	for _, item := range items {
		itemPath := filepath.Join(dir, item.Name())
		info, err := item.Info()
		if err != nil {
			return eris.Wrapf(err, "failed to check %s", itemPath)
		}

		switch {
		case info.Mode()&fs.ModeSymlink != 0:
			target, err := os.Readlink(itemPath)
			if err != nil {
				return eris.Wrapf(err, "failed to read symlink %s", itemPath)
			}

			writer.WriteSymlink(item.Name(), target)
		case info.IsDir():
			writer.OpenDirectory(item.Name(), info.Mode())
			err = packDir(writer, itemPath)
			if err != nil {
				return err
			}

			err = writer.CloseDirectory()
			if err != nil {
				return err
			}
		case info.Mode().IsRegular():
			hdl, err := os.Open(itemPath)
			if err != nil {
				return eris.Wrapf(err, "failed to open %s", itemPath)
			}

			err = writer.WriteFile(item.Name(), info.Mode(), hdl)
			hdl.Close()
			if err != nil {
				return err
			}
		default:
			// sockets and device nodes have no business in a sysroot snapshot
			return eris.Errorf("unsupported file type at %s", itemPath)
		}
	}

	return nil
}

// UnpackTree extracts a snapshot archive into the passed directory.
func UnpackTree(archive, dest string) error {
	hdl, err := os.Open(archive)
	if err != nil {
		return eris.Wrapf(err, "failed to open %s", archive)
	}
	defer hdl.Close()

	entries, err := readSnapshotToc(hdl)
	if err != nil {
		return err
	}

	err = os.MkdirAll(dest, 0o755)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", dest)
	}

	dirStack := []string{dest}
	current := dest
	buffer := make([]byte, 4096)

	for _, entry := range entries {
		switch entry.kind {
		case entryDirOpen:
			current = filepath.Join(current, entry.name)
			dirStack = append(dirStack, current)

			err = os.Mkdir(current, fs.FileMode(entry.mode))
			if err != nil && !eris.Is(err, os.ErrExist) {
				return eris.Wrapf(err, "failed to create %s", current)
			}
		case entryDirClose:
			if len(dirStack) < 2 {
				return eris.Errorf("malformed archive %s: unbalanced directory entries", archive)
			}

			dirStack = dirStack[:len(dirStack)-1]
			current = dirStack[len(dirStack)-1]
		case entrySymlink:
			linkPath := filepath.Join(current, entry.name)

			// os.Symlink refuses to overwrite; restoring over an existing
			// tree (the CI cache case) has to replace the previous link
			err = os.Remove(linkPath)
			if err != nil && !eris.Is(err, os.ErrNotExist) {
				return eris.Wrapf(err, "failed to remove existing entry %s", linkPath)
			}

			err = os.Symlink(entry.target, linkPath)
			if err != nil {
				return eris.Wrapf(err, "failed to create symlink %s", linkPath)
			}
		case entryFile:
			err = extractSnapshotFile(hdl, entry, current, buffer)
			if err != nil {
				return err
			}
		default:
			return eris.Errorf("malformed archive %s: unknown entry kind %d", archive, entry.kind)
		}
	}

	return nil
}

func extractSnapshotFile(hdl *os.File, entry snapshotEntry, dir string, buffer []byte) error {
	destPath := filepath.Join(dir, entry.name)
	destHdl, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fs.FileMode(entry.mode))
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", destPath)
	}

	blob := io.NewSectionReader(hdl, int64(entry.offset), int64(entry.size))
	written, err := io.CopyBuffer(destHdl, brotli.NewReader(blob), buffer)
	if err != nil {
		destHdl.Close()
		return eris.Wrapf(err, "failed to extract %s", destPath)
	}

	if written != int64(entry.decSize) {
		destHdl.Close()
		return eris.Errorf("extracted %d bytes for %s but expected %d", written, destPath, entry.decSize)
	}

	return destHdl.Close()
}

func readSnapshotToc(hdl *os.File) ([]snapshotEntry, error) {
	header := make([]byte, 16)
	_, err := io.ReadFull(hdl, header)
	if err != nil {
		return nil, eris.Wrap(err, "failed to read the archive header")
	}

	if [4]byte(header[0:4]) != snapshotMagic {
		return nil, eris.New("not a sysroot snapshot")
	}

	if version := binary.LittleEndian.Uint32(header[4:8]); version != snapshotVersion {
		return nil, eris.Errorf("unsupported snapshot version %d", version)
	}

	tocOffset := binary.LittleEndian.Uint32(header[8:12])
	count := binary.LittleEndian.Uint32(header[12:16])

	_, err = hdl.Seek(int64(tocOffset), io.SeekStart)
	if err != nil {
		return nil, err
	}

	entries := make([]snapshotEntry, 0, count)
	buffer := make([]byte, 17)

	for i := uint32(0); i < count; i++ {
		_, err = io.ReadFull(hdl, buffer[:17])
		if err != nil {
			return nil, eris.Wrap(err, "failed to read the table of contents")
		}

		entry := snapshotEntry{
			kind:    buffer[0],
			offset:  binary.LittleEndian.Uint32(buffer[1:5]),
			size:    binary.LittleEndian.Uint32(buffer[5:9]),
			decSize: binary.LittleEndian.Uint32(buffer[9:13]),
			mode:    binary.LittleEndian.Uint32(buffer[13:17]),
		}

		entry.name, err = readSnapshotString(hdl, buffer)
		if err != nil {
			return nil, err
		}

		if entry.kind == entrySymlink {
			entry.target, err = readSnapshotString(hdl, buffer)
			if err != nil {
				return nil, err
			}
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

func readSnapshotString(r io.Reader, buffer []byte) (string, error) {
	_, err := io.ReadFull(r, buffer[:2])
	if err != nil {
		return "", eris.Wrap(err, "failed to read the table of contents")
	}

	length := binary.LittleEndian.Uint16(buffer[:2])
	value := make([]byte, length)
	_, err = io.ReadFull(r, value)
	if err != nil {
		return "", eris.Wrap(err, "failed to read the table of contents")
	}

	return string(value), nil
}
