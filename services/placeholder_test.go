package services

import (
	"testing"

	"github.com/coverdesk/automation/internal/rulecontext"
	"github.com/stretchr/testify/assert"
)

func TestSubstitute(t *testing.T) {
	rc := rulecontext.New(map[string]interface{}{
		"lead_id":    float64(42),
		"first_name": "Ann",
		"premium":    1250.5,
		"lead": map[string]interface{}{
			"source": "web",
		},
		"tags": []interface{}{"vip"},
	})

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{"plain text", "no tokens here", "no tokens here"},
		{"empty", "", ""},
		{"single", "New lead {{lead_id}}", "New lead 42"},
		{"inner whitespace", "Hi {{ first_name }}!", "Hi Ann!"},
		{"nested path", "via {{lead.source}}", "via web"},
		{"float", "premium {{premium}}", "premium 1250.5"},
		{"repeated", "{{lead_id}}/{{lead_id}}", "42/42"},
		{"unresolved left verbatim", "agent {{agent_id}}", "agent {{agent_id}}"},
		{"non scalar left verbatim", "tags {{tags}}", "tags {{tags}}"},
		{"mixed", "{{first_name}} ({{missing.path}})", "Ann ({{missing.path}})"},
		{"unbalanced braces", "{{first_name", "{{first_name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Substitute(tt.template, rc))
		})
	}
}

func TestSubstituteConfig(t *testing.T) {
	rc := rulecontext.New(map[string]interface{}{"lead_id": float64(9)})
	cfg := map[string]interface{}{
		"title":  "Call lead {{lead_id}}",
		"days":   float64(3),
		"nested": map[string]interface{}{"a": 1},
	}

	assert.Equal(t, "Call lead 9", substituteConfig(cfg, "title", rc))
	assert.Equal(t, "3", substituteConfig(cfg, "days", rc))
	assert.Equal(t, "", substituteConfig(cfg, "nested", rc))
	assert.Equal(t, "", substituteConfig(cfg, "absent", rc))
}
