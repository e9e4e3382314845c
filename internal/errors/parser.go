package errors

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// maxCodeFrameLines bounds the code frame shipped to the overlay.
const maxCodeFrameLines = 10

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

// Payload is the JSON body served instead of a module when compilation fails
// fatally. The client renders it as an in-page overlay.
type Payload struct {
	Filename  string `json:"filename"`
	Line      int    `json:"line"`
	Column    int    `json:"column"`
	CodeFrame string `json:"codeFrame,omitempty"`
	Message   string `json:"message"`
	Code      int    `json:"code,omitempty"`
}

// StripANSI removes terminal color sequences from s.
func StripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

// NewPayload builds the overlay payload for a fatal diagnostic. The compiler
// usually embeds a colored code frame after the first line of its message; that
// frame is split off, stripped and truncated. When there is none, the frame is
// read from the source file around the reported line.
func NewPayload(d Diagnostic, baseDir string) *Payload {
	message := StripANSI(d.Message)
	headline, frame, _ := strings.Cut(message, "\n")

	payload := &Payload{
		Message: normalizeMessage(headline),
		Code:    d.Code,
	}

	if d.Location != nil {
		payload.Filename = d.Location.File
		payload.Line = d.Location.Line
		payload.Column = d.Location.Column
	}

	if strings.TrimSpace(frame) != "" {
		payload.CodeFrame = truncateLines(frame, maxCodeFrameLines)
	} else if payload.Filename != "" && payload.Line > 0 {
		path := payload.Filename
		if !filepath.IsAbs(path) && baseDir != "" {
			path = filepath.Join(baseDir, path)
		}
		payload.CodeFrame = codeFrameFromFile(path, payload.Line, 2)
	}

	return payload
}

// normalizeMessage drops the "file: " prefix the compiler repeats in front of
// every message and collapses whitespace.
func normalizeMessage(msg string) string {
	msg = strings.TrimSpace(msg)
	if i := strings.Index(msg, ": "); i > 0 && strings.ContainsAny(msg[:i], "/\\.") && !strings.Contains(msg[:i], " ") {
		msg = msg[i+2:]
	}
	return strings.Join(strings.Fields(msg), " ")
}

func truncateLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}

// codeFrameFromFile renders radius lines around line, marking the failing one.
func codeFrameFromFile(path string, line int, radius int) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	lines := strings.Split(string(data), "\n")
	index := line - 1
	if index < 0 || index >= len(lines) {
		return ""
	}

	start := max(0, index-radius)
	end := min(len(lines), index+radius+1)

	var b strings.Builder
	for i := start; i < end; i++ {
		prefix := "  "
		if i == index {
			prefix = "→ "
		}
		fmt.Fprintf(&b, "%s%d | %s\n", prefix, i+1, lines[i])
	}
	return strings.TrimRight(b.String(), "\n")
}
