package validate

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/nimbusfs/syncd/pkg/apperr"
)

const (
	MaxPathLength    = 1000
	MaxContentBytes  = 10 * 1024 * 1024 // 10 MiB, byte length of the stored representation
)

var pathGrammar = regexp.MustCompile(`^[^<>:"|?*\x00-\x1f]+$`)

// Path validates a file path against the grammar in spec.md §4.2.
func Path(path string) error {
	if n := utf8.RuneCountInString(path); n < 1 || n > MaxPathLength {
		return apperr.Validation("path must be between 1 and 1000 characters")
	}
	if !pathGrammar.MatchString(path) {
		return apperr.Validation(`path must not contain <, >, :, ", |, ?, *, or control characters`)
	}
	return nil
}

// Content validates the stored representation's byte length against
// the spec's uniform 10 MiB ceiling.
func Content(content string) error {
	if len(content) > MaxContentBytes {
		return apperr.Validation("content exceeds the 10 MiB size limit")
	}
	return nil
}

// ExtractExtension returns the lowercase extension (without the
// leading dot) of the final path segment, or "" if the path has none
// (no dot, or a leading dot as in a dotfile).
func ExtractExtension(path string) string {
	seg := path
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		seg = path[i+1:]
	}
	dot := strings.LastIndexByte(seg, '.')
	if dot <= 0 {
		return ""
	}
	ext := strings.ToLower(seg[dot+1:])
	if ext == "" {
		return ""
	}
	return ext
}

// IsBinaryExtension reports whether ext is a member of the fixed
// binary-extension set.
func IsBinaryExtension(ext string) bool {
	_, ok := binaryExtensions[ext]
	return ok
}

// Classify derives (extension, isBinary) from a path — the single
// entry point writers use so these fields are never accepted from a
// client.
func Classify(path string) (extension string, isBinary bool) {
	ext := ExtractExtension(path)
	return ext, IsBinaryExtension(ext)
}
