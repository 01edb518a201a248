// Package extract pulls structured JSON payloads out of free-text model output.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoJSON is returned when no valid JSON object can be found in the text
var ErrNoJSON = errors.New("no valid JSON found in output")

// Extractor decodes a JSON object embedded in agent output into target
type Extractor interface {
	Extract(output string, target any) error
}

// ExtractorFunc adapts a function to the Extractor interface
type ExtractorFunc func(output string, target any) error

// Extract calls f(output, target)
func (f ExtractorFunc) Extract(output string, target any) error {
	return f(output, target)
}

var codeBlockRegex = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)\\n\\s*```")

// TextExtractor scrapes JSON out of text. It tries, in order, fenced code
// blocks, every balanced {...} span, and finally the whole output.
type TextExtractor struct{}

// Extract implements Extractor
func (TextExtractor) Extract(output string, target any) error {
	for _, candidate := range Candidates(output) {
		if err := json.Unmarshal([]byte(candidate), target); err == nil {
			return nil
		}
	}
	return ErrNoJSON
}

// Candidates lists the JSON snippets found in output, best guess first
func Candidates(output string) []string {
	var out []string
	for _, m := range codeBlockRegex.FindAllStringSubmatch(output, -1) {
		if s := strings.TrimSpace(m[1]); s != "" {
			out = append(out, s)
		}
	}
	out = append(out, balancedObjects(output)...)
	if s := strings.TrimSpace(output); s != "" {
		out = append(out, s)
	}
	return out
}

// balancedObjects returns top-level {...} spans, skipping braces in strings
func balancedObjects(s string) []string {
	var out []string
	depth, start := 0, -1
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				out = append(out, s[start:i+1])
				start = -1
			}
		}
	}
	return out
}

// OrDefault decodes output into a fresh T, returning fallback when extraction fails.
// The boolean reports whether the extracted value was used.
func OrDefault[T any](ex Extractor, output string, fallback T) (T, bool) {
	var v T
	if ex == nil {
		ex = TextExtractor{}
	}
	if err := ex.Extract(output, &v); err != nil {
		return fallback, false
	}
	return v, true
}

// Strict wraps an extractor so that it fails on payloads that decode but
// carry none of the required keys.
func Strict(ex Extractor, required ...string) Extractor {
	return ExtractorFunc(func(output string, target any) error {
		for _, candidate := range Candidates(output) {
			var probe map[string]json.RawMessage
			if json.Unmarshal([]byte(candidate), &probe) != nil {
				continue
			}
			if !hasAny(probe, required) {
				continue
			}
			if err := ex.Extract(candidate, target); err == nil {
				return nil
			}
		}
		return fmt.Errorf("%w (required keys: %s)", ErrNoJSON, strings.Join(required, ", "))
	})
}

func hasAny(m map[string]json.RawMessage, keys []string) bool {
	if len(keys) == 0 {
		return true
	}
	for _, k := range keys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}
