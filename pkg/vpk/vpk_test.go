package vpk

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

var testFiles = map[string][]byte{
	"materials/brick/brickwall001.vmt": []byte("LightmappedGeneric\n{\n\"$basetexture\" \"brick/brickwall001\"\n}\n"),
	"materials/brick/brickwall001.vtf": bytes.Repeat([]byte{0xAB}, 300),
	"models/props/crate.mdl":           []byte("IDST crate"),
	"README":                           []byte("no extension, no directory"),
	"Scripts\\Game.txt":                []byte("mixed case and backslashes"),
}

func packTestArchive(t *testing.T, opts PackOptions) string {
	t.Helper()
	dirPath := filepath.Join(t.TempDir(), "pak01_dir.vpk")
	if err := Pack(dirPath, testFiles, opts); err != nil {
		t.Fatalf("Pack: %v", err)
	}
	return dirPath
}

func TestOpen_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		opts PackOptions
	}{
		{"v1 single file", PackOptions{Version: 1}},
		{"v2 single file", PackOptions{Version: 2}},
		{"v2 preload", PackOptions{PreloadBytes: 16}},
		{"v2 numbered archives", PackOptions{ArchiveSize: 64, PreloadBytes: 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := Open(packTestArchive(t, tt.opts))
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer a.Close()

			want := []string{
				"materials/brick/brickwall001.vmt",
				"materials/brick/brickwall001.vtf",
				"models/props/crate.mdl",
				"readme",
				"scripts/game.txt",
			}
			if got := a.List(); !reflect.DeepEqual(got, want) {
				t.Fatalf("List() = %v, want %v", got, want)
			}

			for p, data := range testFiles {
				got, err := a.Read(p)
				if err != nil {
					t.Errorf("Read(%q): %v", p, err)
					continue
				}
				if !bytes.Equal(got, data) {
					t.Errorf("Read(%q) = %q, want %q", p, got, data)
				}
			}

			if v := a.Header().Version; tt.opts.Version != 0 && v != tt.opts.Version {
				t.Errorf("version = %d, want %d", v, tt.opts.Version)
			}
		})
	}
}

func TestRead_CaseInsensitive(t *testing.T) {
	a, err := Open(packTestArchive(t, PackOptions{}))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close()

	if !a.Contains("MATERIALS\\Brick\\BrickWall001.VMT") {
		t.Error("Contains should normalize paths")
	}
	e, ok := a.Stat("models/props/crate.mdl")
	if !ok || e.Size() != int64(len(testFiles["models/props/crate.mdl"])) {
		t.Errorf("Stat = %+v, %v", e, ok)
	}
	if _, err := a.Read("missing.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRead_CRCMismatch(t *testing.T) {
	dirPath := packTestArchive(t, PackOptions{ArchiveSize: 1 << 20})
	archive := ArchivePath(dirPath, 0)
	data, err := os.ReadFile(archive)
	if err != nil {
		t.Fatalf("reading archive: %v", err)
	}
	for i := range data {
		data[i] ^= 0xff
	}
	if err := os.WriteFile(archive, data, 0o644); err != nil {
		t.Fatal(err)
	}

	a, err := Open(dirPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close()
	if _, err := a.Read("models/props/crate.mdl"); !errors.Is(err, ErrCRCMismatch) {
		t.Errorf("err = %v, want ErrCRCMismatch", err)
	}
}

func TestOpen_Errors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"bad magic", []byte{1, 2, 3, 4, 1, 0, 0, 0, 0, 0, 0, 0}, ErrInvalidMagic},
		{"version", []byte{0x34, 0x12, 0xaa, 0x55, 3, 0, 0, 0, 0, 0, 0, 0}, ErrUnsupportedVersion},
		{"short header", []byte{0x34, 0x12}, ErrTruncatedTree},
		{"tree past end", []byte{0x34, 0x12, 0xaa, 0x55, 1, 0, 0, 0, 50, 0, 0, 0, 'v', 'm', 't', 0}, ErrTruncatedTree},
		{"huge tree size", []byte{0x34, 0x12, 0xaa, 0x55, 1, 0, 0, 0, 0xff, 0xff, 0xff, 0xff, 'v', 'm', 't', 0}, ErrTruncatedTree},
		{"unterminated tree", []byte{0x34, 0x12, 0xaa, 0x55, 1, 0, 0, 0, 3, 0, 0, 0, 'v', 'm', 't'}, ErrTruncatedTree},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := filepath.Join(dir, tt.name+".vpk")
			if err := os.WriteFile(p, tt.data, 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := Open(p); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestArchivePath(t *testing.T) {
	tests := []struct {
		dir   string
		index uint16
		want  string
	}{
		{filepath.Join("hl2", "hl2_misc_dir.vpk"), 0, filepath.Join("hl2", "hl2_misc_000.vpk")},
		{"pak01_dir.vpk", 12, "pak01_012.vpk"},
		{"single.vpk", 1, "single_001.vpk"},
	}
	for _, tt := range tests {
		if got := ArchivePath(tt.dir, tt.index); got != tt.want {
			t.Errorf("ArchivePath(%q, %d) = %q, want %q", tt.dir, tt.index, got, tt.want)
		}
	}
}
