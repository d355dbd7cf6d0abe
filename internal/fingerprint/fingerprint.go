// Package fingerprint implements the normalization, message-key, and
// SHA-256 fingerprinting pipeline. It is shared between the Evidence
// Extractor (collector side) and the Trace & Case Store's
// search_similar_cases (server side), since both must derive identical
// signatures from the same excerpt.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/autorepair/autorepair/internal/incident"
)

// Precompiled once to avoid repeated full-text scans in hot parsing paths.
var (
	uuidRe      = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)
	isoTSRe     = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?\b`)
	hexRe       = regexp.MustCompile(`(?i)\b0x[0-9a-f]+\b|\b(?:[0-9a-f]*[a-f][0-9a-f]*){8,}\b`)
	absPathRe   = regexp.MustCompile(`(?:[A-Za-z]:\\(?:[^\s\\]+\\)*[^\s\\]+)|(?:/(?:[^\s/]+/)+[^\s/]+)`)
	digitRunRe  = regexp.MustCompile(`\d{2,}`)
	quotedRe    = regexp.MustCompile(`'[^']*'|"[^"]*"`)
	wsRe        = regexp.MustCompile(`\s+`)
	placeholder = regexp.MustCompile(`<ts>|<uuid>|<hex>|<path>|<num>|<str>`)
	tokenRe     = regexp.MustCompile(`[a-z0-9]+`)
)

// MaxMessageKeyLen is the truncation bound
const MaxMessageKeyLen = 160

// MaxFallbackExcerptLen is the truncation bound's fallback.
const MaxFallbackExcerptLen = 500

// MaxTokens bounds the FTS query tokenization
const MaxTokens = 16

// Normalize applies the redaction chain: newline
// unification, UUID/hex/ISO-timestamp/absolute-path/digit-run/quoted-string
// redaction, and whitespace collapse. It is idempotent: Normalize(Normalize(x))
// == Normalize(x), since every substitution target is itself immune to the
// later passes (placeholders contain no digits, quotes, or path separators).
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = uuidRe.ReplaceAllString(s, "<uuid>")
	s = isoTSRe.ReplaceAllString(s, "<ts>")
	s = hexRe.ReplaceAllString(s, "<hex>")
	s = absPathRe.ReplaceAllString(s, "<path>")
	s = digitRunRe.ReplaceAllString(s, "<num>")
	s = quotedRe.ReplaceAllString(s, "<str>")
	s = wsRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// MessageKey derives the message_key field: Normalize
// followed by truncation to MaxMessageKeyLen characters.
func MessageKey(raw string) string {
	n := Normalize(raw)
	return truncate(n, MaxMessageKeyLen)
}

// Fingerprint computes the SHA-256 fingerprint over
// lower(exceptionType) + "\n" + messageKey + "\n" + space-joined
// "file:function" for frames with a non-empty file. If the basis is
// entirely empty, callers should use FallbackFingerprint instead.
func Fingerprint(exceptionType, messageKey string, frames []incident.Frame) string {
	var frameParts []string
	for _, f := range frames {
		if f.File == "" {
			continue
		}
		frameParts = append(frameParts, f.File+":"+f.Function)
	}
	basis := strings.ToLower(exceptionType) + "\n" + messageKey + "\n" + strings.Join(frameParts, " ")
	return sha256Hex(basis)
}

// IsBasisEmpty reports whether Fingerprint's inputs would produce an empty
// basis, signalling that FallbackFingerprint should be used instead.
func IsBasisEmpty(exceptionType, messageKey string, frames []incident.Frame) bool {
	if exceptionType != "" || messageKey != "" {
		return false
	}
	for _, f := range frames {
		if f.File != "" {
			return false
		}
	}
	return true
}

// FallbackFingerprint computes its fallback: SHA-256 over the
// normalized excerpt truncated to MaxFallbackExcerptLen characters.
func FallbackFingerprint(excerpt string) string {
	n := Normalize(excerpt)
	return sha256Hex(truncate(n, MaxFallbackExcerptLen))
}

// Tokenize implements the FTS query-token extraction:
// normalize, strip redaction placeholders, lowercase-split on non-alphanumeric
// boundaries, cap at MaxTokens.
func Tokenize(s string) []string {
	n := Normalize(s)
	n = placeholder.ReplaceAllString(n, " ")
	matches := tokenRe.FindAllString(strings.ToLower(n), -1)
	if len(matches) > MaxTokens {
		matches = matches[:MaxTokens]
	}
	return matches
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
