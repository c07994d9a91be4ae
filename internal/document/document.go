// Package document loads a text document, decodes it to UTF-8 and splits it
// into fixed-size byte chunks for analysis.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DefaultChunkSize is the byte size of one chunk.
const DefaultChunkSize = 100 * 1024

var (
	// ErrNoContent is returned for documents without any non-whitespace text.
	ErrNoContent = errors.New("no content")
	// ErrChunkOutOfRange is returned when rehydrating an order past the end.
	ErrChunkOutOfRange = errors.New("chunk out of range")
)

// Document is a decoded, UTF-8 document held in memory.
type Document struct {
	Name     string
	Size     int64 // size of the source file in bytes, before decoding
	ModTime  time.Time
	Encoding string // declared encoding, empty for UTF-8

	data []byte
}

// Open reads path and decodes it. encodingName is a WHATWG label such as
// "gb18030" or "windows-1252"; empty means UTF-8.
func Open(path, encodingName string) (*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat document: %w", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	doc, err := FromBytes(filepath.Base(path), raw, encodingName)
	if err != nil {
		return nil, err
	}
	doc.ModTime = info.ModTime()
	return doc, nil
}

// FromBytes decodes raw content received without a file, e.g. an upload.
func FromBytes(name string, raw []byte, encodingName string) (*Document, error) {
	data, err := Decode(raw, encodingName)
	if err != nil {
		return nil, err
	}
	return &Document{
		Name:     name,
		Size:     int64(len(raw)),
		Encoding: encodingName,
		data:     data,
	}, nil
}

// Decode converts raw to UTF-8. Without a declared encoding, a BOM selects
// UTF-16 and anything else is read as UTF-8 with invalid sequences replaced.
func Decode(raw []byte, encodingName string) ([]byte, error) {
	name := strings.ToLower(strings.TrimSpace(encodingName))
	if name == "" || name == "utf-8" || name == "utf8" {
		out, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode utf-8: %w", err)
		}
		return out, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", encodingName, err)
	}
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return out, nil
}

// Len returns the decoded size in bytes.
func (d *Document) Len() int {
	return len(d.data)
}

// Empty reports whether the document has no visible text.
func (d *Document) Empty() bool {
	return len(bytes.TrimSpace(d.data)) == 0
}

// ChunkCount returns how many chunks of chunkSize bytes the document spans.
func (d *Document) ChunkCount(chunkSize int) int {
	if chunkSize <= 0 || len(d.data) == 0 {
		return 0
	}
	return (len(d.data) + chunkSize - 1) / chunkSize
}

// Rehydrate returns the text of chunk order. Chunk boundaries sit at
// order*chunkSize; a rune split by a boundary belongs to the chunk holding
// its lead byte. The result is the same on every call.
func Rehydrate(d *Document, order, chunkSize int) (string, error) {
	if d == nil {
		return "", errors.New("no document loaded")
	}
	if chunkSize <= 0 {
		return "", fmt.Errorf("invalid chunk size %d", chunkSize)
	}
	if order < 0 || order >= d.ChunkCount(chunkSize) {
		return "", fmt.Errorf("%w: chunk %d of %d", ErrChunkOutOfRange, order, d.ChunkCount(chunkSize))
	}
	start, end := bounds(d.data, order, chunkSize)
	return string(d.data[start:end]), nil
}

func bounds(data []byte, order, chunkSize int) (int, int) {
	start := order * chunkSize
	end := min(start+chunkSize, len(data))
	for start < end && !utf8.RuneStart(data[start]) {
		start++
	}
	for end < len(data) && !utf8.RuneStart(data[end]) {
		end++
	}
	return start, end
}

// Fingerprint identifies a job by file identity and mode, so that the same
// file analyzed in the same mode maps to the same saved progress.
func Fingerprint(name string, size int64, modTime time.Time, mode string) string {
	return fmt.Sprintf("file-%s-%d-%d-%s", name, size, modTime.UnixMilli(), mode)
}

// Fingerprint identifies this document analyzed in mode.
func (d *Document) Fingerprint(mode string) string {
	return Fingerprint(d.Name, d.Size, d.ModTime, mode)
}
