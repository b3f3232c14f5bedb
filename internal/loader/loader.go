// Package loader reads documents from disk and decodes them into ordered
// plain-text blocks for chunking. Decoders are registered per file extension;
// the built-in registry covers .txt, .md, .pdf, .docx, and .xlsx.
package loader

import (
	"path/filepath"
	"strings"

	"github.com/54b3r/docchat-go/internal/rag"
)

// DecodeFunc decodes the file at path into ordered plain-text blocks
// (one block per natural unit of the format: a page, a sheet, or the
// whole file for flat formats).
type DecodeFunc func(path string) ([]string, error)

// Loader maps file extensions to decoders.
type Loader struct {
	// decoders maps a lowercase extension (including the dot) to its decoder.
	decoders map[string]DecodeFunc
}

// New constructs a Loader with the built-in decoder registry.
func New() *Loader {
	return &Loader{
		decoders: map[string]DecodeFunc{
			".txt":  decodeText,
			".md":   decodeMarkdown,
			".pdf":  decodePDF,
			".docx": decodeDOCX,
			".xlsx": decodeXLSX,
		},
	}
}

// Register adds or replaces the decoder for ext (e.g. ".csv"). The extension
// is lowercased; a leading dot is added if missing.
func (l *Loader) Register(ext string, fn DecodeFunc) {
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	l.decoders[ext] = fn
}

// Supported reports whether a decoder is registered for path's extension.
func (l *Loader) Supported(path string) bool {
	_, ok := l.decoders[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Load decodes the document at path into ordered text blocks.
// It returns *rag.UnsupportedFormatError for unregistered extensions and
// *rag.LoadError (wrapping the cause) for any decode failure.
func (l *Loader) Load(path string) ([]string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	decode, ok := l.decoders[ext]
	if !ok {
		return nil, &rag.UnsupportedFormatError{Path: path, Ext: ext}
	}

	blocks, err := decode(path)
	if err != nil {
		return nil, &rag.LoadError{Path: path, Err: err}
	}
	return blocks, nil
}
