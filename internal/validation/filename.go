package validation

import (
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const (
	// MaxFilenameLength bounds the sanitised name including its extension
	MaxFilenameLength = 100
	fallbackFilename  = "file"
)

// SanitizeFilename turns an untrusted client filename into a safe single path
// component. Control characters, whitespace and / \ : * ? " < > | become "_",
// runs of "_" collapse, and the result is truncated to MaxFilenameLength while
// keeping the extension. An empty result falls back to "file".
func SanitizeFilename(name string) string {
	name = norm.NFC.String(name)
	// Clients sometimes send a full path; keep the last element only.
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}

	var b strings.Builder
	lastUnderscore := false
	for _, r := range name {
		if isReserved(r) {
			r = '_'
		}
		if r == '_' {
			if lastUnderscore {
				continue
			}
			lastUnderscore = true
		} else {
			lastUnderscore = false
		}
		b.WriteRune(r)
	}

	clean := b.String()
	ext := strings.ToLower(filepath.Ext(clean))
	stem := strings.Trim(strings.TrimSuffix(clean, filepath.Ext(clean)), "_.")

	if stem == "" {
		stem = fallbackFilename
	}
	if ext == "." || len(ext) > MaxFilenameLength/2 {
		ext = ""
	}

	return truncateRunes(stem, MaxFilenameLength-len(ext)) + ext
}

func isReserved(r rune) bool {
	if unicode.IsControl(r) || unicode.IsSpace(r) {
		return true
	}
	switch r {
	case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
		return true
	}
	return false
}

// truncateRunes cuts s to at most max bytes without splitting a UTF-8 sequence.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := 0
	for i := range s {
		if i > max {
			break
		}
		cut = i
	}
	return strings.TrimRight(s[:cut], "_")
}
