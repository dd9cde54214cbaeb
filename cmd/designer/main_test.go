package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/matthewbaird/schemacanvas/internal/cueimport"
	"github.com/matthewbaird/schemacanvas/internal/designer"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "none.env")))
	err := cmd.Execute()
	return out.String(), err
}

func TestInspect_Demo(t *testing.T) {
	out, err := run(t, "inspect", "--demo")
	require.NoError(t, err)

	var snap designer.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Equal(t, demoProject, snap.ProjectID)
	assert.Len(t, snap.Models, 3)
	assert.Len(t, snap.Relationships, 2)
	assert.Len(t, snap.Lines, 2)
	require.Len(t, snap.Dropped, 1)
	assert.Equal(t, "product_id", snap.Dropped[0].FieldName)
}

func TestInspect_YAML(t *testing.T) {
	out, err := run(t, "inspect", "--demo", "--format", "yaml")
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
	assert.Equal(t, demoProject, doc["project_id"])
	assert.Contains(t, doc, "pending_edits")
	assert.NotContains(t, doc, "projectid")

	models, ok := doc["models"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, models)
	fields := models[0].(map[string]any)["fields"].([]any)
	require.NotEmpty(t, fields)
	field := fields[0].(map[string]any)
	assert.Contains(t, field, "field_type")
	assert.Contains(t, field, "max_length")
	assert.NotContains(t, field, "fieldtype")

	_, err = run(t, "inspect", "--demo", "--format", "xml")
	assert.Error(t, err)
}

func TestImport_DryRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.cue")
	require.NoError(t, os.WriteFile(path, []byte(`
#Customer: {
	id:    int
	phone: string
}

#Product: {
	id:  int
	sku: string @designer(max_length=32, unique)
}
`), 0o644))

	out, err := run(t, "import", "--demo", "--file", path, "--dry-run")
	require.NoError(t, err)
	var plan cueimport.Plan
	require.NoError(t, json.Unmarshal([]byte(out), &plan))
	require.Len(t, plan.Models, 2)
	assert.True(t, plan.Models[0].Exists)
	assert.Equal(t, []string{"phone"}, plan.Models[0].Create)
	assert.False(t, plan.Models[1].Exists)

	out, err = run(t, "import", "--demo", "--file", path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &plan))
	assert.Len(t, plan.Models, 2)
}

func TestImport_RequiresFile(t *testing.T) {
	_, err := run(t, "import", "--demo")
	assert.Error(t, err)
}
