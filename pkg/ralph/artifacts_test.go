package ralph

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArtifactsShapeAColonForm(t *testing.T) {
	resp := "Here is the file:\n```python:app/main.py\nprint('hi')\n```\n"
	artifacts := ParseArtifacts(resp)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "app/main.py", artifacts[0].Path)
	assert.Equal(t, "python", artifacts[0].Lang)
	assert.Contains(t, artifacts[0].Body, "print")
}

func TestParseArtifactsShapeANewlineForm(t *testing.T) {
	resp := "```python\napp/util.py\ndef helper():\n    pass\n```\n"
	artifacts := ParseArtifacts(resp)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "app/util.py", artifacts[0].Path)
}

func TestParseArtifactsShapeBFallbackDerivesPathFromFunction(t *testing.T) {
	resp := "```python\ndef reverse_string(s):\n    return s[::-1]\n```\n"
	artifacts := ParseArtifacts(resp)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "reverse_string.py", artifacts[0].Path)
}

func TestParseArtifactsShapeBFallbackUsesCounterWhenNoDeclaration(t *testing.T) {
	resp := "```text\njust some notes\n```\n"
	artifacts := ParseArtifacts(resp)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "artifact_1.txt", artifacts[0].Path)
}

func TestParseArtifactsNoFencedBlocksReturnsNil(t *testing.T) {
	assert.Nil(t, ParseArtifacts("no code here"))
}

func TestWriteArtifactsCreatesNestedDirectories(t *testing.T) {
	dir := t.TempDir()
	artifacts := []Artifact{{Lang: "python", Path: "pkg/sub/mod.py", Body: "x = 1\n"}}

	written, err := WriteArtifacts(dir, "US-001", artifacts)
	require.NoError(t, err)
	assert.Equal(t, []string{"pkg/sub/mod.py"}, written)

	data, err := os.ReadFile(filepath.Join(dir, "generated", "US-001", "pkg", "sub", "mod.py"))
	require.NoError(t, err)
	assert.Equal(t, "x = 1\n", string(data))
}
