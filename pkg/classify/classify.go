// Package classify turns opaque error payloads into short human-readable
// summaries for error messages in the transcript.
//
// Inputs range from plain exception text to provider error bodies encoded
// as JSON, JSON inside a JSON string, or Python-repr mappings with single
// quotes. Classify never fails and never returns an empty string.
package classify

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxLength bounds the length, in characters, of unstructured summaries.
const MaxLength = 200

// Ellipsis is appended to truncated summaries.
const Ellipsis = "..."

// fallback is returned for empty or whitespace-only input.
const fallback = "Unknown error"

// rule extracts a summary from text matched by pattern. The first rule
// whose pattern matches wins.
type rule struct {
	name    string
	pattern *regexp.Regexp
}

// rules lists known provider error shapes, most specific first. Each
// pattern captures the message in group 1. New shapes are added here.
var rules = []rule{
	{
		// Python repr of a provider body: {'error': {'message': '...'}}
		name:    "python_error_message",
		pattern: regexp.MustCompile(`'error':\s*\{[^{}]*?'message':\s*'((?:[^'\\]|\\.)+)'`),
	},
	{
		// JSON fragment embedded in other text: "error": {"message": "..."}
		name:    "json_error_message",
		pattern: regexp.MustCompile(`"error":\s*\{[^{}]*?"message":\s*"((?:[^"\\]|\\.)+)"`),
	},
	{
		name:    "generic_message",
		pattern: regexp.MustCompile(`\bmessage["']?\s*[:=]\s*"((?:[^"\\]|\\.)+)"`),
	},
	{
		// status_code: 429, model_name: x, body: {... 'message': '...'}
		name:    "status_code_body",
		pattern: regexp.MustCompile(`(?s)status_code:\s*\d+.*?body:\s*\{.*?'message':\s*'((?:[^'\\]|\\.)+)'`),
	},
	{
		name:    "error_prefix",
		pattern: regexp.MustCompile(`(?m)Error:\s*(\S[^\r\n]*)`),
	},
}

// Classify returns a bounded, non-empty summary of raw.
func Classify(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return fallback
	}

	if msg, ok := fromJSON(text); ok {
		return bound(msg)
	}

	for _, r := range rules {
		if m := r.pattern.FindStringSubmatch(text); len(m) > 1 {
			if msg := strings.TrimSpace(unescape(m[1])); msg != "" {
				return bound(msg)
			}
		}
	}

	first, _, _ := strings.Cut(text, "\n")
	first = strings.TrimSpace(first)
	if first != "" && utf8.RuneCountInString(first) < MaxLength {
		return first
	}

	return truncate(text)
}

// Rule names the pattern that matches raw, or "" when none does. Intended
// for logging and metrics labels.
func Rule(raw string) string {
	text := strings.TrimSpace(raw)
	if _, ok := fromJSON(text); ok {
		return "json"
	}
	for _, r := range rules {
		if r.pattern.MatchString(text) {
			return r.name
		}
	}
	return ""
}

// fromJSON parses text as a JSON object, unwrapping one level of string
// encoding, and returns error.message or message.
func fromJSON(text string) (string, bool) {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return "", false
		}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	if inner, ok := obj["error"].(map[string]any); ok {
		if msg, ok := inner["message"].(string); ok && strings.TrimSpace(msg) != "" {
			return strings.TrimSpace(msg), true
		}
	}
	if msg, ok := obj["message"].(string); ok && strings.TrimSpace(msg) != "" {
		return strings.TrimSpace(msg), true
	}
	return "", false
}

var escapes = strings.NewReplacer(`\'`, `'`, `\"`, `"`, `\n`, " ", `\\`, `\`)

func unescape(s string) string {
	return escapes.Replace(s)
}

// bound truncates extracted messages that exceed MaxLength.
func bound(s string) string {
	if utf8.RuneCountInString(s) <= MaxLength {
		return s
	}
	return truncate(s)
}

func truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= MaxLength {
		return s
	}
	return string(runes[:MaxLength]) + Ellipsis
}
