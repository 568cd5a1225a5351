package toolset

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// newTestToolset creates a toolset rooted in a temporary directory pre-populated with files
func newTestToolset(t *testing.T, files map[string]string) (*Toolset, string) {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		writeFileForTest(t, root, name, content)
	}
	ts, err := New(root)
	require.NoError(t, err)
	return ts, root
}

func writeFileForTest(t *testing.T, root, name, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readTestFile(t *testing.T, root, name string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(name)))
	require.NoError(t, err)
	return string(b)
}

func requireNotExist(t *testing.T, root, name string) {
	t.Helper()
	_, err := os.Stat(filepath.Join(root, filepath.FromSlash(name)))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestNew_CreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "root")
	ts, err := New(root)
	require.NoError(t, err)
	require.Equal(t, root, ts.Root())

	info, err := os.Stat(root)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestNew_RootIsFile(t *testing.T) {
	root := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(root, []byte("x"), 0o644))

	_, err := New(root)
	require.ErrorContains(t, err, "not a directory")
}

func TestNew_MemMapFs(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	ts, err := New("/work", WithFileSystem(fs))
	require.NoError(t, err)

	_, err = ts.SaveToFile(ctx, "dir/a.txt", "x\ny\n")
	require.NoError(t, err)

	b, err := afero.ReadFile(fs, "/work/dir/a.txt")
	require.NoError(t, err)
	require.Equal(t, "x\ny\n", string(b))

	lines, err := ts.ReadLineNumbers(ctx, "dir/a.txt", 2, EndOfFile)
	require.NoError(t, err)
	require.Equal(t, LineMap{2: "y"}, lines)
}

func TestIsInputError(t *testing.T) {
	ts, _ := newTestToolset(t, nil)
	ctx := context.Background()

	_, err := ts.ReadLineNumbers(ctx, "../x", 1, EndOfFile)
	require.True(t, IsInputError(err))
	_, err = ts.ReadLineNumbers(ctx, "missing.txt", 1, EndOfFile)
	require.True(t, IsInputError(err))
	_, err = ts.FindLinesInFile(ctx, "a.txt", "(")
	require.True(t, IsInputError(err))

	require.False(t, IsInputError(os.ErrPermission))
}

func TestCancelledContext(t *testing.T) {
	ts, _ := newTestToolset(t, map[string]string{"a.txt": "x"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ts.ReadLineNumbers(ctx, "a.txt", 1, EndOfFile)
	require.ErrorIs(t, err, context.Canceled)
	_, err = ts.DeleteFile(ctx, "a.txt")
	require.ErrorIs(t, err, context.Canceled)
}
