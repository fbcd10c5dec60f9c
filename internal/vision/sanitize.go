package vision

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ParseError reports a model answer that could not be turned into the expected JSON.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse model response: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsParseError reports whether err is (or wraps) a ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// parseCause returns the reason inside a ParseError, so a validator that already
// reports one is not wrapped twice.
func parseCause(err error) error {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe.Err
	}
	return err
}

// StripCodeFence removes a markdown code fence (```json ... ``` or ``` ... ```)
// around content. Text without a fence is only trimmed.
func StripCodeFence(content string) string {
	s := strings.TrimSpace(content)
	start := strings.Index(s, "```")
	if start == -1 {
		return s
	}
	rest := s[start+3:]

	// Skip a language tag such as "json" up to the end of the line.
	tagEnd := 0
	for tagEnd < len(rest) && isTagChar(rest[tagEnd]) {
		tagEnd++
	}
	rest = rest[tagEnd:]

	if end := strings.Index(rest, "```"); end != -1 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

func isTagChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// extractJSON returns the first balanced JSON object or array in content, ignoring
// surrounding prose. Brackets inside string literals are not counted.
func extractJSON(content string) string {
	start := strings.IndexAny(content, "{[")
	if start == -1 {
		return content
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		c := content[i]
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
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}

	// If no matching bracket found, return from start
	return content[start:]
}

// Sanitize strips wrappers from a model answer and returns the JSON text inside.
func Sanitize(content string) string {
	return extractJSON(StripCodeFence(content))
}

// DecodeJSON sanitizes content and unmarshals it into v. Any failure is a *ParseError.
func DecodeJSON(content string, v any) error {
	cleaned := Sanitize(content)
	if strings.TrimSpace(cleaned) == "" {
		return &ParseError{Raw: content, Err: errors.New("empty response")}
	}
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return &ParseError{Raw: content, Err: err}
	}
	return nil
}
