package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		subject string
		want    bool
	}{
		{"hub.workflow.started", "hub.workflow.started", true},
		{"hub.workflow.started", "hub.workflow.completed", false},

		// "*" matches exactly one segment.
		{"hub.*.started", "hub.workflow.started", true},
		{"hub.*.started", "hub.approval.started", true},
		{"hub.*.started", "hub.workflow.node.started", false},
		{"hub.*", "hub.workflow", true},
		{"hub.*", "hub.workflow.started", false},
		{"*.workflow.started", "hub.workflow.started", true},

		// ">" matches one or more trailing segments.
		{"hub.>", "hub.workflow.started", true},
		{"hub.>", "hub.workflow.node.started", true},
		{"hub.>", "hub", false},
		{"hub.workflow.>", "hub.workflow.node.completed", true},
		{"hub.workflow.>", "hub.approval.requested", false},
		{">", "hub.workflow.started", true},

		// segment counts must line up for literal/star patterns
		{"hub.workflow", "hub.workflow.started", false},
		{"hub.workflow.started", "hub.workflow", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"~"+tt.subject, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.pattern, tt.subject))
		})
	}
}
