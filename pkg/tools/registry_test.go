package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry_Names(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{ToolCurrentTime, ToolFileRead, ToolFileWrite, ToolHTTPRequest}, r.Names())
}

func TestProvider_AllowList(t *testing.T) {
	r := DefaultRegistry()
	p, err := r.NewProvider(Env{Root: t.TempDir()}, []string{ToolHTTPRequest, ToolCurrentTime, ToolHTTPRequest})
	require.NoError(t, err)

	metas := p.List()
	require.Len(t, metas, 2)
	assert.Equal(t, ToolHTTPRequest, metas[0].Name)
	assert.Equal(t, ToolCurrentTime, metas[1].Name)

	_, err = p.Get(ToolFileWrite)
	assert.ErrorIs(t, err, ErrToolNotAllowed)

	tool, err := p.Get(ToolCurrentTime)
	require.NoError(t, err)
	again, err := p.Get(ToolCurrentTime)
	require.NoError(t, err)
	assert.Same(t, tool, again)
}

func TestProvider_UnknownToolFailsFast(t *testing.T) {
	_, err := DefaultRegistry().NewProvider(Env{}, []string{"shell"})
	assert.ErrorIs(t, err, ErrToolNotRegistered)
}

func TestProvider_Definitions(t *testing.T) {
	p, err := DefaultRegistry().NewProvider(Env{}, []string{ToolFileRead})
	require.NoError(t, err)

	defs := p.Definitions()
	require.Len(t, defs, 1)
	assert.Equal(t, ToolFileRead, defs[0].Name)
	assert.NotEmpty(t, defs[0].Description)
	assert.Equal(t, "object", defs[0].InputSchema.Type)
}

func TestInputSchema_ToMap(t *testing.T) {
	schema := InputSchema{
		Type: "object",
		Properties: map[string]Property{
			"tags": {Type: "array", Items: &Property{Type: "string"}},
			"mode": {Type: "string", Enum: []string{"a", "b"}, Description: "m"},
		},
		Required: []string{"mode"},
	}

	m := schema.ToMap()
	assert.Equal(t, "object", m["type"])
	assert.Equal(t, []string{"mode"}, m["required"])
	props := m["properties"].(map[string]any)
	tags := props["tags"].(map[string]any)
	assert.Equal(t, map[string]any{"type": "string"}, tags["items"])
	mode := props["mode"].(map[string]any)
	assert.Equal(t, []string{"a", "b"}, mode["enum"])
	assert.Equal(t, "m", mode["description"])
}

func TestCurrentTimeTool(t *testing.T) {
	fixed := time.Date(2025, 7, 4, 16, 30, 0, 0, time.UTC)
	tool := NewCurrentTimeTool(Env{Now: func() time.Time { return fixed }})

	res, err := tool.Exec(context.Background(), map[string]any{})
	require.NoError(t, err)
	out := decodeResult(t, res)
	assert.Equal(t, "2025-07-04T16:30:00Z", out["time"])
	assert.Equal(t, "Friday", out["weekday"])

	res, err = tool.Exec(context.Background(), map[string]any{"timezone": "Not/AZone"})
	require.NoError(t, err)
	assert.Equal(t, false, decodeResult(t, res)["success"])
}
