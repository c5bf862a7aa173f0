// Package rules applies legacy content rewrite directives and validates
// the JSON rule payloads forwarded to the unlocker.
package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/pithecene-io/unlockbench/log"
	"github.com/pithecene-io/unlockbench/types"
)

const (
	bodyOpen  = "<body>"
	bodyClose = "</body>"
)

// ErrInvalidJSON is returned when a rules payload is not valid JSON.
var ErrInvalidJSON = errors.New("invalid JSON rules")

// regexLiteral matches /pattern/flags with the flags a JavaScript regex
// literal accepts.
var regexLiteral = regexp.MustCompile(`^/(.*?)/([gimuy]*)$`)

// ValidateJSON reports whether a non-blank payload is valid JSON.
// A blank payload is valid and means "no rules".
func ValidateJSON(payload string) error {
	if strings.TrimSpace(payload) == "" {
		return nil
	}
	if !gjson.Valid(payload) {
		return ErrInvalidJSON
	}
	return nil
}

// Validate checks a rule list for unknown kinds and malformed regex
// patterns.
func Validate(rs []types.ContentRule) error {
	for i, r := range rs {
		if !r.Type.Valid() {
			return fmt.Errorf("rules[%d]: unknown rule type %q", i, r.Type)
		}
		if r.Type == types.RuleRegex {
			if _, _, err := compile(r.Pattern); err != nil {
				return fmt.Errorf("rules[%d]: %w", i, err)
			}
		}
	}
	return nil
}

// Apply runs each rule over content in order. A rule that cannot be
// applied is skipped with a warning.
func Apply(content string, rs []types.ContentRule, logger *log.Logger) string {
	out := content
	for i, r := range rs {
		next, err := applyOne(out, r)
		if err != nil {
			logger.Warn("skipping content rule", map[string]any{
				"index": i,
				"type":  string(r.Type),
				"error": err.Error(),
			})
			continue
		}
		out = next
	}
	return out
}

func applyOne(content string, r types.ContentRule) (string, error) {
	switch r.Type {
	case types.RuleReplace:
		return strings.Replace(content, r.Pattern, r.Action, 1), nil
	case types.RuleRegex:
		return applyRegex(content, r.Pattern, r.Action)
	case types.RuleAppend:
		if strings.Contains(content, bodyClose) {
			return strings.Replace(content, bodyClose, r.Action+bodyClose, 1), nil
		}
		return content + r.Action, nil
	case types.RulePrepend:
		if strings.Contains(content, bodyOpen) {
			return strings.Replace(content, bodyOpen, bodyOpen+r.Action, 1), nil
		}
		return r.Action + content, nil
	default:
		return "", fmt.Errorf("unknown rule type %q", r.Type)
	}
}

// compile parses a /pattern/flags literal. g selects replace-all; i and m
// become inline flags; u and y have no Go equivalent and are ignored.
func compile(literal string) (*regexp.Regexp, bool, error) {
	m := regexLiteral.FindStringSubmatch(literal)
	if m == nil {
		return nil, false, fmt.Errorf("pattern %q is not a /pattern/flags literal", literal)
	}
	pattern, flags := m[1], m[2]

	var inline string
	if strings.Contains(flags, "i") {
		inline += "i"
	}
	if strings.Contains(flags, "m") {
		inline += "m"
	}
	if inline != "" {
		pattern = "(?" + inline + ")" + pattern
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, false, fmt.Errorf("compile %q: %w", literal, err)
	}
	return re, strings.Contains(flags, "g"), nil
}

func applyRegex(content, literal, action string) (string, error) {
	re, global, err := compile(literal)
	if err != nil {
		return "", err
	}
	if global {
		return re.ReplaceAllString(content, action), nil
	}

	loc := re.FindStringSubmatchIndex(content)
	if loc == nil {
		return content, nil
	}
	replaced := re.ExpandString(nil, action, content, loc)
	return content[:loc[0]] + string(replaced) + content[loc[1]:], nil
}
