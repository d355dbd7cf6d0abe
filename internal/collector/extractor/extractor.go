package extractor

import (
	"path"
	"regexp"
	"strings"

	"github.com/autorepair/autorepair/internal/fingerprint"
	"github.com/autorepair/autorepair/internal/incident"
)

// Language is the detected or configured flavour of a stack trace.
type Language string

const (
	LangAuto   Language = "auto"
	LangPython Language = "python"
	LangJava   Language = "java"
)

// FilterLevel controls the gate
type FilterLevel string

const (
	FilterStrict   FilterLevel = "strict"
	FilterBalanced FilterLevel = "balanced"
	FilterLenient  FilterLevel = "lenient"
)

// Options configures one Extract call (collector CLI flags).
type Options struct {
	Language           Language
	Filter             FilterLevel
	ContextLinesBefore int // C
	MaxRawExcerpt      int // M
	MaxFrames          int // F
}

// DefaultOptions mirrors the collector CLI's defaults.
func DefaultOptions() Options {
	return Options{
		Language:           LangAuto,
		Filter:             FilterBalanced,
		ContextLinesBefore: 3,
		MaxRawExcerpt:      4000,
		MaxFrames:          10,
	}
}

var (
	pyTracebackHeaderRe = regexp.MustCompile(`^Traceback \(most recent call last\):\s*$`)
	pyFrameRe           = regexp.MustCompile(`^\s*File "([^"]+)", line (\d+), in (\S+)\s*$`)
	pyExceptionLineRe   = regexp.MustCompile(`^([\w.]+): ?(.*)$`)

	javaThreadHeaderRe = regexp.MustCompile(`^Exception in thread "[^"]*"\s+(.*)$`)
	javaCausedByRe     = regexp.MustCompile(`^Caused by:\s*(.*)$`)
	javaFrameRe        = regexp.MustCompile(`^\s*at\s+([A-Za-z0-9_.$]+)\(([^():]+)(?::(\d+))?\)\s*$`)
	javaExceptionMsgRe = regexp.MustCompile(`^([\w.$]+(?:Exception|Error)):\s*(.*)$`)
)

// Result is the extracted evidence for one flushed chunk, ready to become an
// incident.ErrorBody once wrapped with repo/service metadata.
type Result struct {
	Language      Language
	ExceptionType string
	Message       string
	Frames        []incident.Frame
	Excerpt       string
	Emit          bool // filter gate decision
}

// Extract runs the full Evidence Extractor pipeline over one
// flushed chunk: excerpt selection, language-aware exception/frame parsing,
// and the filter gate.
func Extract(chunk string, opts Options) Result {
	if strings.TrimSpace(chunk) == "" {
		return Result{Excerpt: "", Emit: false}
	}
	lines := strings.Split(chunk, "\n")

	lang := opts.Language
	if lang == LangAuto || lang == "" {
		lang = detectLanguage(lines)
	}

	excerpt := selectExcerpt(lines, lang, opts.ContextLinesBefore, opts.MaxRawExcerpt)
	excerptLines := strings.Split(excerpt, "\n")

	var exceptionType, message string
	var frames []incident.Frame
	var markerFound bool

	switch lang {
	case LangPython:
		exceptionType, message, markerFound = extractPythonException(excerptLines)
		frames = extractPythonFrames(excerptLines, opts.MaxFrames)
	case LangJava:
		exceptionType, message, markerFound = extractJavaException(excerptLines)
		frames = extractJavaFrames(excerptLines, opts.MaxFrames)
	default:
		// No language detected: still attempt a bare NameError/NameException tail match.
		exceptionType, message, markerFound = extractPythonException(excerptLines)
		if exceptionType == "" {
			exceptionType, message, markerFound = extractJavaException(excerptLines)
		}
	}

	res := Result{
		Language:      lang,
		ExceptionType: exceptionType,
		Message:       message,
		Frames:        frames,
		Excerpt:       excerpt,
	}
	res.Emit = shouldReport(opts.Filter, markerFound, len(frames) > 0, exceptionType != "")
	return res
}

// detectLanguage picks whichever marker set (python or java) has the
// earliest occurrence in the chunk.
func detectLanguage(lines []string) Language {
	pyIdx, javaIdx := -1, -1
	for i, l := range lines {
		if pyIdx < 0 && (pyTracebackHeaderRe.MatchString(l) || pyFrameRe.MatchString(l)) {
			pyIdx = i
		}
		if javaIdx < 0 && (javaThreadHeaderRe.MatchString(l) || javaCausedByRe.MatchString(l) || javaFrameRe.MatchString(l)) {
			javaIdx = i
		}
	}
	switch {
	case pyIdx < 0 && javaIdx < 0:
		return ""
	case pyIdx < 0:
		return LangJava
	case javaIdx < 0:
		return LangPython
	case pyIdx <= javaIdx:
		return LangPython
	default:
		return LangJava
	}
}

// selectExcerpt implements its anchor-and-truncate algorithm.
func selectExcerpt(lines []string, lang Language, contextBefore, maxChars int) string {
	anchor := -1
	switch lang {
	case LangPython:
		anchor = lastMatchIndex(lines, pyTracebackHeaderRe)
		if anchor < 0 {
			anchor = lastMatchIndex(lines, pyFrameRe)
		}
	case LangJava:
		anchor = lastMatchIndex(lines, javaThreadHeaderRe)
		if anchor < 0 {
			anchor = lastMatchIndexAny(lines, javaCausedByRe)
		}
		if anchor < 0 {
			anchor = lastMatchIndex(lines, javaFrameRe)
		}
	}

	var selected string
	if anchor >= 0 {
		start := anchor - contextBefore
		if start < 0 {
			start = 0
		}
		selected = strings.Join(lines[start:], "\n")
	} else if idx := lastMatchIndex(lines, pyExceptionLineRe); idx >= 0 {
		selected = lines[idx]
	} else {
		tailStart := len(lines) - 200
		if tailStart < 0 {
			tailStart = 0
		}
		selected = strings.Join(lines[tailStart:], "\n")
	}

	if len(selected) > maxChars {
		selected = selected[len(selected)-maxChars:]
	}
	return selected
}

func lastMatchIndex(lines []string, re *regexp.Regexp) int {
	for i := len(lines) - 1; i >= 0; i-- {
		if re.MatchString(lines[i]) {
			return i
		}
	}
	return -1
}

// lastMatchIndexAny exists only for clarity at call sites; identical to lastMatchIndex.
func lastMatchIndexAny(lines []string, re *regexp.Regexp) int { return lastMatchIndex(lines, re) }

// extractPythonException scans reversed for the final "Name: message" line.
func extractPythonException(lines []string) (exceptionType, message string, found bool) {
	limit := len(lines) - 20
	if limit < 0 {
		limit = 0
	}
	for i := len(lines) - 1; i >= limit; i-- {
		m := pyExceptionLineRe.FindStringSubmatch(lines[i])
		if m == nil {
			continue
		}
		return simpleName(m[1]), m[2], true
	}
	return "", "", false
}

// extractPythonFrames scans forward for "File ..., line N, in NAME" frames.
func extractPythonFrames(lines []string, limit int) []incident.Frame {
	var frames []incident.Frame
	for _, l := range lines {
		m := pyFrameRe.FindStringSubmatch(l)
		if m == nil {
			continue
		}
		frames = append(frames, incident.Frame{File: path.Base(m[1]), Function: m[3]})
		if len(frames) >= limit {
			break
		}
	}
	return frames
}

// extractJavaException scans the last 60 lines in reverse and returns the
// last line that is a "Caused by:" line, an "Exception in thread" header,
// or a bare "Name: message" line, whichever of the three comes last.
func extractJavaException(lines []string) (exceptionType, message string, found bool) {
	limit := len(lines) - 60
	if limit < 0 {
		limit = 0
	}
	for i := len(lines) - 1; i >= limit; i-- {
		l := lines[i]
		if m := javaCausedByRe.FindStringSubmatch(l); m != nil {
			if et, msg, ok := splitJavaExceptionMsg(m[1]); ok {
				return et, msg, true
			}
		}
		if m := javaThreadHeaderRe.FindStringSubmatch(l); m != nil {
			if et, msg, ok := splitJavaExceptionMsg(m[1]); ok {
				return et, msg, true
			}
		}
		if m := javaExceptionMsgRe.FindStringSubmatch(l); m != nil {
			return simpleName(m[1]), m[2], true
		}
	}
	return "", "", false
}

func splitJavaExceptionMsg(s string) (exceptionType, message string, ok bool) {
	m := javaExceptionMsgRe.FindStringSubmatch(s)
	if m == nil {
		return "", "", false
	}
	return simpleName(m[1]), m[2], true
}

// extractJavaFrames scans forward for "at Qualified.Name(File:line)" frames,
// in textual order (newest-call-site-first, per the JVM convention).
func extractJavaFrames(lines []string, limit int) []incident.Frame {
	var frames []incident.Frame
	for _, l := range lines {
		m := javaFrameRe.FindStringSubmatch(l)
		if m == nil {
			continue
		}
		file := m[2]
		if file == "Unknown Source" {
			file = ""
		}
		frames = append(frames, incident.Frame{File: file, Function: m[1]})
		if len(frames) >= limit {
			break
		}
	}
	return frames
}

// simpleName returns the last segment after '.' or '$'.
func simpleName(qualified string) string {
	qualified = strings.TrimSpace(qualified)
	if i := strings.LastIndexAny(qualified, ".$"); i >= 0 {
		return qualified[i+1:]
	}
	return qualified
}

// shouldReport implements the filter gate
func shouldReport(level FilterLevel, markerFound, hasFrames, hasExceptionType bool) bool {
	switch level {
	case FilterLenient:
		return true
	case FilterStrict:
		return markerFound || hasFrames
	default: // balanced
		return markerFound || hasFrames || hasExceptionType
	}
}

// BuildErrorBody assembles the incident.ErrorBody from an extraction Result,
// computing message_key and fingerprint
func BuildErrorBody(r Result) incident.ErrorBody {
	messageKey := fingerprint.MessageKey(r.Message)
	var fp string
	if fingerprint.IsBasisEmpty(r.ExceptionType, messageKey, r.Frames) {
		fp = fingerprint.FallbackFingerprint(r.Excerpt)
	} else {
		fp = fingerprint.Fingerprint(r.ExceptionType, messageKey, r.Frames)
	}
	return incident.ErrorBody{
		ExceptionType: r.ExceptionType,
		MessageKey:    messageKey,
		Fingerprint:   fp,
		Frames:        r.Frames,
		RawExcerpt:    r.Excerpt,
	}
}
