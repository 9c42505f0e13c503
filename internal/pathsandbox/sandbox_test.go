package pathsandbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContainWithinRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644))

	got, err := Contain(root, "a.txt", Options{})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "a.txt"), got)
}

func TestContainRejectsTraversal(t *testing.T) {
	root := t.TempDir()
	_, err := Contain(root, "../escape.txt", Options{AllowCreate: true})
	require.Error(t, err)
	var sberr *Error
	require.ErrorAs(t, err, &sberr)
	require.Equal(t, KindPathEscape, sberr.Kind)
}

func TestContainAllowsMissingWithCreate(t *testing.T) {
	root := t.TempDir()
	got, err := Contain(root, "new/dir/file.txt", Options{AllowCreate: true})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "new/dir/file.txt"), got)
}

func TestContainRejectsMissingWithoutCreate(t *testing.T) {
	root := t.TempDir()
	_, err := Contain(root, "missing.txt", Options{})
	require.Error(t, err)
}

func TestContainRejectsSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("s"), 0o644))
	link := filepath.Join(root, "link")
	require.NoError(t, os.Symlink(filepath.Join(outside, "secret.txt"), link))

	_, err := Contain(root, "link", Options{})
	require.Error(t, err)
	var sberr *Error
	require.ErrorAs(t, err, &sberr)
	require.Equal(t, KindPathEscape, sberr.Kind)
}

func TestContainRejectsBrokenSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	link := filepath.Join(root, "dangling")
	require.NoError(t, os.Symlink("/etc/passwd-does-not-exist-outside", link))

	_, err := Contain(root, "dangling", Options{})
	require.Error(t, err)
}

func TestContainAllowsSymlinkInsideRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "real.txt"), []byte("x"), 0o644))
	link := filepath.Join(root, "link.txt")
	require.NoError(t, os.Symlink(filepath.Join(root, "real.txt"), link))

	got, err := Contain(root, "link.txt", Options{})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "real.txt"), got)
}
