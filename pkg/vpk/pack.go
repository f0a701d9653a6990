package vpk

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/Faultbox/srcforge/pkg/encoding"
)

// PackOptions controls how Pack lays out data.
type PackOptions struct {
	Version      uint32 // 1 or 2, default 2
	PreloadBytes int    // leading bytes of each file kept in the tree
	ArchiveSize  int64  // split data into numbered archives of about this size; 0 keeps it in the directory file
}

type packFile struct {
	name string
	data []byte
}

// Pack writes files into a new VPK at dirPath (and numbered archives next to it
// when opts.ArchiveSize is set). Keys are archive paths.
func Pack(dirPath string, files map[string][]byte, opts PackOptions) error {
	if opts.Version == 0 {
		opts.Version = 2
	}
	if opts.Version != 1 && opts.Version != 2 {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, opts.Version)
	}

	// ext -> dir -> files
	tree := make(map[string]map[string][]packFile)
	for p, data := range files {
		p = encoding.NormalizePath(p)
		dir, file := path.Split(p)
		dir = strings.TrimSuffix(dir, "/")
		if dir == "" {
			dir = " "
		}
		ext := " "
		if i := strings.LastIndexByte(file, '.'); i > 0 {
			ext, file = file[i+1:], file[:i]
		}
		if tree[ext] == nil {
			tree[ext] = make(map[string][]packFile)
		}
		tree[ext][dir] = append(tree[ext][dir], packFile{name: file, data: data})
	}

	var (
		treeBuf  bytes.Buffer
		dirData  bytes.Buffer
		archives []*bytes.Buffer
	)
	le := binary.LittleEndian
	putString := func(s string) {
		treeBuf.Write(encoding.UTF8ToLegacy(s))
		treeBuf.WriteByte(0)
	}

	for _, ext := range sortedKeys(tree) {
		putString(ext)
		dirs := tree[ext]
		for _, dir := range sortedKeys(dirs) {
			putString(dir)
			entries := dirs[dir]
			sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })
			for _, f := range entries {
				putString(f.name)

				preload := opts.PreloadBytes
				if preload > len(f.data) {
					preload = len(f.data)
				}
				rest := f.data[preload:]

				index := uint16(DirArchive)
				var offset int
				if opts.ArchiveSize > 0 {
					if len(archives) == 0 || int64(archives[len(archives)-1].Len()) >= opts.ArchiveSize {
						archives = append(archives, new(bytes.Buffer))
					}
					index = uint16(len(archives) - 1)
					offset = archives[index].Len()
					archives[index].Write(rest)
				} else {
					offset = dirData.Len()
					dirData.Write(rest)
				}

				var rec [entrySize]byte
				le.PutUint32(rec[0:], crc32.ChecksumIEEE(f.data))
				le.PutUint16(rec[4:], uint16(preload))
				le.PutUint16(rec[6:], index)
				le.PutUint32(rec[8:], uint32(offset))
				le.PutUint32(rec[12:], uint32(len(rest)))
				le.PutUint16(rec[16:], entryTerminate)
				treeBuf.Write(rec[:])
				treeBuf.Write(f.data[:preload])
			}
			treeBuf.WriteByte(0)
		}
		treeBuf.WriteByte(0)
	}
	treeBuf.WriteByte(0)

	var out bytes.Buffer
	binary.Write(&out, le, uint32(Signature))
	binary.Write(&out, le, opts.Version)
	binary.Write(&out, le, uint32(treeBuf.Len()))
	if opts.Version == 2 {
		binary.Write(&out, le, []uint32{uint32(dirData.Len()), 0, 0, 0})
	}
	out.Write(treeBuf.Bytes())
	out.Write(dirData.Bytes())

	if err := os.WriteFile(dirPath, out.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing directory: %w", err)
	}
	for i, buf := range archives {
		if err := os.WriteFile(ArchivePath(dirPath, uint16(i)), buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("writing archive %d: %w", i, err)
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
