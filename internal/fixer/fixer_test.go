package fixer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCodeBlocksSingle(t *testing.T) {
	stdout := "some preamble\n<code_block filename=\"src/main.go\">\npackage main\n</code_block>\ntrailer"
	blocks, err := ParseCodeBlocks(stdout)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "src/main.go", blocks[0].Filename)
	assert.Equal(t, "package main\n", blocks[0].Content)
}

func TestParseCodeBlocksMultipleInOrder(t *testing.T) {
	stdout := `<code_block filename="a.go">A</code_block>
<code_block filename="b.go">B</code_block>`
	blocks, err := ParseCodeBlocks(stdout)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, "a.go", blocks[0].Filename)
	assert.Equal(t, "b.go", blocks[1].Filename)
}

func TestParseCodeBlocksZeroBlocksIsError(t *testing.T) {
	_, err := ParseCodeBlocks("no blocks here")
	require.Error(t, err)
}

func TestApplyBlocksWritesSanitizedPaths(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("old"), 0o644))

	written, err := ApplyBlocks(root, []CodeBlock{{Filename: "main.go", Content: "new contents"}})
	require.NoError(t, err)
	require.Len(t, written, 1)

	data, err := os.ReadFile(written[0])
	require.NoError(t, err)
	assert.Equal(t, "new contents", string(data))
}

func TestApplyBlocksRejectsEscapingPath(t *testing.T) {
	root := t.TempDir()
	_, err := ApplyBlocks(root, []CodeBlock{{Filename: "../../etc/passwd", Content: "x"}})
	require.Error(t, err)
}
