// Package encoding provides text encoding utilities for Source engine file formats.
package encoding

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// LegacyToUTF8 converts Windows-1252 encoded bytes to a UTF-8 string.
// Input that is already valid UTF-8 is returned unchanged.
func LegacyToUTF8(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	decoder := charmap.Windows1252.NewDecoder()
	result, _, err := transform.Bytes(decoder, data)
	if err != nil {
		return string(data)
	}
	return string(result)
}

// UTF8ToLegacy converts a UTF-8 string to Windows-1252 bytes.
// Returns the original bytes if conversion fails.
func UTF8ToLegacy(s string) []byte {
	encoder := charmap.Windows1252.NewEncoder()
	result, _, err := transform.Bytes(encoder, []byte(s))
	if err != nil {
		return []byte(s)
	}
	return result
}

// NormalizePath normalizes an asset path for case-insensitive lookup:
// forward slashes, lowercase, no leading slash or "./", no duplicate separators.
func NormalizePath(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	path = strings.ToLower(path)
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	path = strings.TrimPrefix(path, "./")
	return strings.TrimPrefix(path, "/")
}

// TrimNullBytes removes trailing null bytes from a byte slice.
func TrimNullBytes(data []byte) []byte {
	return bytes.TrimRight(data, "\x00")
}

// TrimNullString removes trailing null bytes and converts to string.
func TrimNullString(data []byte) string {
	return string(TrimNullBytes(data))
}

// FixedStringToUTF8 converts a fixed-size, NUL-padded legacy string to UTF-8.
func FixedStringToUTF8(data []byte) string {
	if i := bytes.IndexByte(data, 0); i >= 0 {
		data = data[:i]
	}
	return LegacyToUTF8(data)
}

// UTF8ToFixedString converts a UTF-8 string to a fixed-size legacy byte array.
// Pads with null bytes to fill the specified size.
func UTF8ToFixedString(s string, size int) []byte {
	result := make([]byte, size)
	copy(result, UTF8ToLegacy(s))
	return result
}
