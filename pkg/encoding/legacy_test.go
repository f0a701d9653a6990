package encoding

import (
	"bytes"
	"testing"
)

func TestLegacyToUTF8(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{"ascii", []byte("tools/toolsnodraw"), "tools/toolsnodraw"},
		{"utf8 passthrough", []byte("café"), "café"},
		{"windows-1252 e acute", []byte{'c', 'a', 'f', 0xE9}, "café"},
		{"windows-1252 euro", []byte{0x80}, "€"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LegacyToUTF8(tt.in); got != tt.want {
				t.Errorf("LegacyToUTF8(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFixedStringRoundTrip(t *testing.T) {
	fixed := UTF8ToFixedString("brick/wall01é", 32)
	if len(fixed) != 32 {
		t.Fatalf("len = %d, want 32", len(fixed))
	}
	if got := FixedStringToUTF8(fixed); got != "brick/wall01é" {
		t.Errorf("FixedStringToUTF8 = %q", got)
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`Materials\Brick\Wall01.VMT`, "materials/brick/wall01.vmt"},
		{"/models//props/crate.mdl", "models/props/crate.mdl"},
		{"./maps/test.bsp", "maps/test.bsp"},
		{"sound/a.wav", "sound/a.wav"},
	}
	for _, tt := range tests {
		if got := NormalizePath(tt.in); got != tt.want {
			t.Errorf("NormalizePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTrimNull(t *testing.T) {
	if got := TrimNullBytes([]byte("abc\x00\x00")); !bytes.Equal(got, []byte("abc")) {
		t.Errorf("TrimNullBytes = %q", got)
	}
	if got := TrimNullString([]byte("x\x00")); got != "x" {
		t.Errorf("TrimNullString = %q", got)
	}
}
