package mcpserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/rust-mcp/internal/inspection"
)

func TestMarshalIndentProducesReadableJSON(t *testing.T) {
	out, err := marshalIndent(map[string]any{"view": "mir", "truncated": false})
	require.NoError(t, err)
	assert.Contains(t, out, "\"view\": \"mir\"")
	assert.Contains(t, out, "\n")
}

func TestInspectionContextOverridesGatingOnlyWhenRequested(t *testing.T) {
	s := &Server{inspection: inspection.NewContext(t.TempDir())}

	same := s.inspectionContext("")
	assert.Same(t, s.inspection, same)

	overridden := s.inspectionContext("lenient")
	assert.NotSame(t, s.inspection, overridden)
	assert.Equal(t, inspection.Lenient, overridden.GatingMode())
}
