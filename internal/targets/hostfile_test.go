package targets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadHostFileParsesRows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hosts.csv")
	require.NoError(t, os.WriteFile(path, []byte("ngc1,10.5,-20.1\nngc2,30.0,40.0\n"), 0o644))

	set, err := LoadHostFile(path)
	require.NoError(t, err)
	require.Len(t, set, 2)
	require.Equal(t, "ngc1", set[0].Name)
	require.InDelta(t, 10.5, set[0].RADeg, 1e-9)
}

func TestLoadHostFileRejectsBlankLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hosts.csv")
	require.NoError(t, os.WriteFile(path, []byte("ngc1,10.5,-20.1\n\nngc2,30.0,40.0\n"), 0o644))

	_, err := LoadHostFile(path)
	require.Error(t, err)
}

func TestLoadHostFileRejectsWrongColumnCount(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hosts.csv")
	require.NoError(t, os.WriteFile(path, []byte("ngc1,10.5\n"), 0o644))

	_, err := LoadHostFile(path)
	require.Error(t, err)
}
