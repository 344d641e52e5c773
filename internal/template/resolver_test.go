package template

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PerformanceSuite/CommandCenter-sub018/pkg/models"
)

func testScope() Scope {
	return Scope{
		Context: map[string]interface{}{
			"repositoryPath": "./src",
			"options": map[string]interface{}{
				"depth": float64(3),
			},
		},
		Nodes: map[string]NodeScope{
			"scan": {
				Output: map[string]interface{}{
					"summary": "2 issues found",
					"issues":  []interface{}{"a", "b"},
				},
			},
		},
	}
}

func TestResolve_ContextPath(t *testing.T) {
	out, err := Resolve(map[string]interface{}{
		"path": "{{ context.repositoryPath }}",
	}, testScope())
	require.NoError(t, err)
	assert.Equal(t, "./src", out["path"])
}

func TestResolve_WholePlaceholderKeepsType(t *testing.T) {
	out, err := Resolve(map[string]interface{}{
		"depth":  "{{ context.options.depth }}",
		"issues": "{{ nodes.scan.output.issues }}",
		"whole":  "{{ nodes.scan.output }}",
	}, testScope())
	require.NoError(t, err)
	assert.Equal(t, float64(3), out["depth"])
	assert.Equal(t, []interface{}{"a", "b"}, out["issues"])
	assert.Equal(t, map[string]interface{}{
		"summary": "2 issues found",
		"issues":  []interface{}{"a", "b"},
	}, out["whole"])
}

func TestResolve_EmbeddedPlaceholderStringifies(t *testing.T) {
	out, err := Resolve(map[string]interface{}{
		"message": "scan of {{ context.repositoryPath }}: {{ nodes.scan.output.summary }}",
	}, testScope())
	require.NoError(t, err)
	assert.Equal(t, "scan of ./src: 2 issues found", out["message"])
}

func TestResolve_NestedStructures(t *testing.T) {
	out, err := Resolve(map[string]interface{}{
		"nested": map[string]interface{}{
			"items": []interface{}{"{{ nodes.scan.output.summary }}", "literal"},
		},
	}, testScope())
	require.NoError(t, err)
	nested := out["nested"].(map[string]interface{})
	assert.Equal(t, []interface{}{"2 issues found", "literal"}, nested["items"])
}

func TestResolve_UnresolvedPlaceholder(t *testing.T) {
	tests := []struct {
		name string
		tmpl string
	}{
		{"unknown source", "{{ secrets.apiKey }}"},
		{"unknown context key", "{{ context.missing }}"},
		{"unknown node", "{{ nodes.ghost.output.x }}"},
		{"missing output path", "{{ nodes.scan.output.missing }}"},
		{"node without output segment", "{{ nodes.scan.result }}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(map[string]interface{}{"v": tt.tmpl}, testScope())
			require.Error(t, err)
			var trErr *models.TemplateResolutionError
			assert.True(t, errors.As(err, &trErr))
		})
	}
}

func TestResolve_NoPlaceholdersPassThrough(t *testing.T) {
	out, err := Resolve(map[string]interface{}{
		"literal": "no placeholders here",
		"number":  float64(42),
		"flag":    true,
	}, testScope())
	require.NoError(t, err)
	assert.Equal(t, "no placeholders here", out["literal"])
	assert.Equal(t, float64(42), out["number"])
	assert.Equal(t, true, out["flag"])
}
