package services

import (
	"regexp"

	"github.com/coverdesk/automation/internal/rulecontext"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

// Substitute replaces {{ path }} tokens with values from rc.
// Tokens that do not resolve to a scalar are left verbatim.
func Substitute(template string, rc rulecontext.Context) string {
	if template == "" {
		return template
	}
	return placeholderPattern.ReplaceAllStringFunc(template, func(token string) string {
		m := placeholderPattern.FindStringSubmatch(token)
		if len(m) < 2 {
			return token
		}
		value, ok := rc.GetPath(m[1])
		if !ok || value == nil {
			return token
		}
		s, ok := rulecontext.ScalarString(value)
		if !ok {
			return token
		}
		return s
	})
}

// substituteConfig returns the string value of key with placeholders applied
func substituteConfig(cfg map[string]interface{}, key string, rc rulecontext.Context) string {
	raw, ok := cfg[key]
	if !ok || raw == nil {
		return ""
	}
	s, ok := rulecontext.ScalarString(raw)
	if !ok {
		return ""
	}
	return Substitute(s, rc)
}
