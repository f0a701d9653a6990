// Package vpk reads Valve pak archives: a directory file (*_dir.vpk) holding the
// file tree and small files, plus numbered data archives (*_000.vpk, ...).
package vpk

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Faultbox/srcforge/pkg/encoding"
)

// VPK errors.
var (
	ErrInvalidMagic       = errors.New("invalid VPK signature")
	ErrUnsupportedVersion = errors.New("unsupported VPK version")
	ErrTruncatedTree      = errors.New("truncated VPK directory tree")
	ErrNotFound           = errors.New("file not found")
	ErrCRCMismatch        = errors.New("VPK entry CRC mismatch")
)

// Signature is the first uint32 of every directory file.
const Signature = 0x55aa1234

// DirArchive is the archive index of entries stored in the directory file.
const DirArchive = 0x7fff

const (
	headerSizeV1   = 12
	headerSizeV2   = 28
	entryTerminate = 0xffff
	entrySize      = 18
)

// Header is the directory file header. The v2 section sizes are zero for v1.
type Header struct {
	Version        uint32
	TreeSize       uint32
	FileDataSize   uint32
	ArchiveMD5Size uint32
	OtherMD5Size   uint32
	SignatureSize  uint32
	headerSize     int
}

// Entry is one file of the archive.
type Entry struct {
	Path         string
	CRC          uint32
	ArchiveIndex uint16
	Offset       uint32
	Length       uint32
	Preload      []byte
}

// Size returns the full size of the file.
func (e *Entry) Size() int64 {
	return int64(len(e.Preload)) + int64(e.Length)
}

// Archive is an opened VPK.
type Archive struct {
	dirPath  string
	dir      *os.File
	header   Header
	dataBase int64
	entries  map[string]*Entry

	mu       sync.Mutex
	archives map[uint16]*os.File
}

// Open opens a directory file. A path to a single-file VPK without the "_dir"
// suffix works as long as every entry lives in it.
func Open(dirPath string) (*Archive, error) {
	file, err := os.Open(dirPath)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}

	a := &Archive{
		dirPath:  dirPath,
		dir:      file,
		entries:  make(map[string]*Entry),
		archives: make(map[uint16]*os.File),
	}
	if err := a.readDirectory(); err != nil {
		file.Close()
		return nil, err
	}
	return a, nil
}

func (a *Archive) readDirectory() error {
	var head [headerSizeV2]byte
	n, _ := a.dir.ReadAt(head[:], 0)
	hdr, err := parseHeader(head[:n])
	if err != nil {
		return err
	}
	a.header = *hdr

	st, err := a.dir.Stat()
	if err != nil {
		return err
	}
	if int64(hdr.headerSize)+int64(hdr.TreeSize) > st.Size() {
		return fmt.Errorf("%w: tree of %d bytes in a %d byte file", ErrTruncatedTree, hdr.TreeSize, st.Size())
	}
	tree := make([]byte, hdr.TreeSize)
	if _, err := a.dir.ReadAt(tree, int64(hdr.headerSize)); err != nil {
		return fmt.Errorf("%w: %v", ErrTruncatedTree, err)
	}
	entries, err := parseTree(tree)
	if err != nil {
		return err
	}
	for _, e := range entries {
		a.entries[e.Path] = e
	}
	a.dataBase = int64(hdr.headerSize) + int64(hdr.TreeSize)
	return nil
}

func parseHeader(data []byte) (*Header, error) {
	if len(data) < headerSizeV1 {
		return nil, fmt.Errorf("%w: %d byte header", ErrTruncatedTree, len(data))
	}
	le := binary.LittleEndian
	if le.Uint32(data) != Signature {
		return nil, ErrInvalidMagic
	}
	h := &Header{
		Version:    le.Uint32(data[4:]),
		TreeSize:   le.Uint32(data[8:]),
		headerSize: headerSizeV1,
	}
	switch h.Version {
	case 1:
	case 2:
		if len(data) < headerSizeV2 {
			return nil, fmt.Errorf("%w: %d byte v2 header", ErrTruncatedTree, len(data))
		}
		h.FileDataSize = le.Uint32(data[12:])
		h.ArchiveMD5Size = le.Uint32(data[16:])
		h.OtherMD5Size = le.Uint32(data[20:])
		h.SignatureSize = le.Uint32(data[24:])
		h.headerSize = headerSizeV2
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	return h, nil
}

// treeReader walks the extension / directory / name tree.
type treeReader struct {
	data []byte
	pos  int
}

func (r *treeReader) str() (string, error) {
	i := bytes.IndexByte(r.data[r.pos:], 0)
	if i < 0 {
		return "", fmt.Errorf("%w: unterminated string at %d", ErrTruncatedTree, r.pos)
	}
	s := encoding.LegacyToUTF8(r.data[r.pos : r.pos+i])
	r.pos += i + 1
	return s, nil
}

func parseTree(data []byte) ([]*Entry, error) {
	r := &treeReader{data: data}
	le := binary.LittleEndian
	var out []*Entry
	for {
		ext, err := r.str()
		if err != nil {
			return nil, err
		}
		if ext == "" {
			return out, nil
		}
		for {
			dir, err := r.str()
			if err != nil {
				return nil, err
			}
			if dir == "" {
				break
			}
			for {
				name, err := r.str()
				if err != nil {
					return nil, err
				}
				if name == "" {
					break
				}
				if r.pos+entrySize > len(data) {
					return nil, fmt.Errorf("%w: entry %s", ErrTruncatedTree, name)
				}
				rec := data[r.pos:]
				preload := int(le.Uint16(rec[4:]))
				e := &Entry{
					Path:         joinPath(dir, name, ext),
					CRC:          le.Uint32(rec),
					ArchiveIndex: le.Uint16(rec[6:]),
					Offset:       le.Uint32(rec[8:]),
					Length:       le.Uint32(rec[12:]),
				}
				if le.Uint16(rec[16:]) != entryTerminate {
					return nil, fmt.Errorf("%w: bad terminator for %s", ErrTruncatedTree, e.Path)
				}
				r.pos += entrySize
				if r.pos+preload > len(data) {
					return nil, fmt.Errorf("%w: preload of %s", ErrTruncatedTree, e.Path)
				}
				if preload > 0 {
					e.Preload = data[r.pos : r.pos+preload]
				}
				r.pos += preload
				out = append(out, e)
			}
		}
	}
}

// joinPath builds an archive path. A single space stands for an empty directory
// or extension.
func joinPath(dir, name, ext string) string {
	p := name
	if ext != " " {
		p += "." + ext
	}
	if dir != " " {
		p = dir + "/" + p
	}
	return encoding.NormalizePath(p)
}

// Header returns the directory file header.
func (a *Archive) Header() Header {
	return a.header
}

// List returns all file paths in the archive, sorted.
func (a *Archive) List() []string {
	result := make([]string, 0, len(a.entries))
	for p := range a.entries {
		result = append(result, p)
	}
	sort.Strings(result)
	return result
}

// Contains checks if a file exists.
func (a *Archive) Contains(p string) bool {
	_, ok := a.entries[encoding.NormalizePath(p)]
	return ok
}

// Stat returns the entry for a path.
func (a *Archive) Stat(p string) (*Entry, bool) {
	e, ok := a.entries[encoding.NormalizePath(p)]
	return e, ok
}

// Read reads a file from the archive and verifies its CRC. Safe for concurrent use.
func (a *Archive) Read(p string) ([]byte, error) {
	e, ok := a.entries[encoding.NormalizePath(p)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}

	out := make([]byte, e.Size())
	copy(out, e.Preload)
	if e.Length > 0 {
		f, base, err := a.dataFile(e.ArchiveIndex)
		if err != nil {
			return nil, err
		}
		if _, err := f.ReadAt(out[len(e.Preload):], base+int64(e.Offset)); err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Path, err)
		}
	}
	if crc32.ChecksumIEEE(out) != e.CRC {
		return nil, fmt.Errorf("%w: %s", ErrCRCMismatch, e.Path)
	}
	return out, nil
}

// dataFile returns the file holding an archive index and the offset entries are
// relative to. Numbered archives are opened on first use.
func (a *Archive) dataFile(index uint16) (*os.File, int64, error) {
	if index == DirArchive {
		return a.dir, a.dataBase, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if f, ok := a.archives[index]; ok {
		return f, 0, nil
	}
	name := ArchivePath(a.dirPath, index)
	f, err := os.Open(name)
	if err != nil {
		return nil, 0, fmt.Errorf("opening data archive: %w", err)
	}
	a.archives[index] = f
	return f, 0, nil
}

// ArchivePath returns the numbered data archive next to a directory file:
// "pak01_dir.vpk" with index 3 gives "pak01_003.vpk".
func ArchivePath(dirPath string, index uint16) string {
	base := strings.TrimSuffix(filepath.Base(dirPath), ".vpk")
	base = strings.TrimSuffix(base, "_dir")
	return filepath.Join(filepath.Dir(dirPath), fmt.Sprintf("%s_%03d.vpk", base, index))
}

// Close closes the directory file and every data archive.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var errs []error
	for _, f := range a.archives {
		errs = append(errs, f.Close())
	}
	a.archives = nil
	if a.dir != nil {
		errs = append(errs, a.dir.Close())
		a.dir = nil
	}
	return errors.Join(errs...)
}
