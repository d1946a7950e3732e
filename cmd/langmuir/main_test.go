package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoresFromNodeFileCountsNonBlankLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nodefile")
	require.NoError(t, os.WriteFile(path, []byte("node1\nnode1\n\nnode2\n"), 0o644))

	assert.Equal(t, 3, coresFromNodeFile(path))
}

func TestCoresFromNodeFileDefaultsToZeroWhenUnset(t *testing.T) {
	assert.Equal(t, 0, coresFromNodeFile(""))
	assert.Equal(t, 0, coresFromNodeFile(filepath.Join(t.TempDir(), "missing")))
}

func TestGPUFromGPUFileReadsFirstIndex(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gpufile")
	require.NoError(t, os.WriteFile(path, []byte("\n2\n3\n"), 0o644))

	assert.Equal(t, 2, gpuFromGPUFile(path))
}

func TestGPUFromGPUFileDefaultsToNoOverride(t *testing.T) {
	assert.Equal(t, noOverride, gpuFromGPUFile(""))
	assert.Equal(t, noOverride, gpuFromGPUFile(filepath.Join(t.TempDir(), "missing")))

	dir := t.TempDir()
	path := filepath.Join(dir, "gpufile")
	require.NoError(t, os.WriteFile(path, []byte("not-a-number\n"), 0o644))
	assert.Equal(t, noOverride, gpuFromGPUFile(path))
}
