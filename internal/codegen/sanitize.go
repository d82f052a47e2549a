package codegen

import (
	"regexp"
	"strings"
)

const fence = "```"

var fenceTag = regexp.MustCompile(`^[A-Za-z0-9_+.#-]+$`)

// Sanitize recovers executable Manim source from a raw model response.
//
// Steps, in order: keep only the innermost fenced block if one exists, drop
// everything before the first ImportMarker, drop trailing blank/comment/docstring
// lines, trim. Applying Sanitize to its own output returns that output unchanged.
func Sanitize(raw string) (string, error) {
	code := raw
	// Text that already starts with the import is treated as unfenced source so a
	// fence inside the code cannot change a second pass.
	if !strings.HasPrefix(strings.TrimSpace(code), ImportMarker) {
		code = stripFences(code)
	}

	idx := strings.Index(code, ImportMarker)
	if idx < 0 {
		return "", &InvalidGenerationError{Marker: ImportMarker, Snippet: snippet(raw)}
	}
	code = code[idx:]
	code = dropTrailingNoise(code)
	return strings.TrimSpace(code), nil
}

type fenceMarker struct {
	pos          int // index of the backticks
	contentStart int // index where the enclosed content would begin
	tagged       bool
	inline       bool // text on both sides of the backticks
}

// stripFences returns the innermost fenced region: the first marker that is
// directly followed by an untagged closing marker. A single unclosed opening fence
// yields everything after it.
func stripFences(text string) string {
	markers := lineFences(scanFences(text))
	if len(markers) == 0 {
		return text
	}
	for i := 0; i+1 < len(markers); i++ {
		if markers[i+1].tagged {
			continue
		}
		start, end := markers[i].contentStart, markers[i+1].pos
		if start > end {
			start = end
		}
		return text[start:end]
	}
	if len(markers) >= 2 {
		// Every later marker carries a word after it; pair the first two anyway.
		start, end := markers[0].contentStart, markers[1].pos
		if start > end {
			start = end
		}
		return text[start:end]
	}
	return text[markers[0].contentStart:]
}

func scanFences(text string) []fenceMarker {
	var markers []fenceMarker
	offset := 0
	for {
		i := strings.Index(text[offset:], fence)
		if i < 0 {
			return markers
		}
		pos := offset + i
		after := pos + len(fence)

		lineEnd := strings.IndexByte(text[after:], '\n')
		var rest string
		next := len(text)
		if lineEnd >= 0 {
			rest = text[after : after+lineEnd]
			next = after + lineEnd + 1
		} else {
			rest = text[after:]
		}

		lineStart := strings.LastIndexByte(text[:pos], '\n') + 1
		m := fenceMarker{pos: pos}
		trimmed := strings.TrimSpace(rest)
		m.inline = strings.TrimSpace(text[lineStart:pos]) != "" && trimmed != ""
		switch {
		case trimmed == "":
			m.contentStart = next
		case fenceTag.MatchString(trimmed) && !strings.Contains(rest, fence):
			m.tagged = true
			m.contentStart = next
		default:
			// Inline fence: content starts right after the backticks.
			m.contentStart = after
		}
		markers = append(markers, m)
		offset = after
	}
}

// lineFences drops backticks embedded mid-line, such as inside a string literal,
// unless nothing else looks like a fence.
func lineFences(markers []fenceMarker) []fenceMarker {
	kept := markers[:0:0]
	for _, m := range markers {
		if !m.inline {
			kept = append(kept, m)
		}
	}
	if len(kept) == 0 {
		return markers
	}
	return kept
}

func dropTrailingNoise(code string) string {
	lines := strings.Split(code, "\n")
	last := len(lines) - 1
	for i := len(lines) - 1; i >= 0; i-- {
		if substantive(lines[i]) {
			last = i
			break
		}
	}
	return strings.Join(lines[:last+1], "\n")
}

func substantive(line string) bool {
	t := strings.TrimSpace(line)
	if t == "" {
		return false
	}
	return !strings.HasPrefix(t, "#") &&
		!strings.HasPrefix(t, `"""`) &&
		!strings.HasPrefix(t, "'''")
}

func snippet(content string) string {
	clean := strings.Join(strings.Fields(content), " ")
	if clean == "" {
		return "<empty>"
	}
	const limit = 160
	runes := []rune(clean)
	if len(runes) > limit {
		clean = string(runes[:limit]) + "..."
	}
	return clean
}
