//go:build !windows

package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritePermissions(t *testing.T) {
	dir := t.TempDir()
	w, err := New(&Options{OutputDir: dir, PermFile: 0o600})
	require.NoError(t, err)
	require.NoError(t, w.Write(context.Background(), "fr.json", strings.NewReader("x")))
	info, err := os.Stat(filepath.Join(dir, "fr.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
