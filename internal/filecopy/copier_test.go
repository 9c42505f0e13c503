package filecopy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCopyFileBasic(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("hello"), 0o644))

	c := New(src, dst)
	res, err := c.CopyFile("a.txt", "out/a.txt", CopyOptions{CreateDirectories: true})
	require.NoError(t, err)
	require.Equal(t, OpCopy, res.Operation)
	require.False(t, res.Encrypted)

	data, err := os.ReadFile(filepath.Join(dst, "out/a.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}

func TestCopySensitiveFileDefaultsTo0600(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "config"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "config/master.key"), []byte("abcd"), 0o644))

	cipher, err := NewStaticKeyCipher(make([]byte, 32))
	require.NoError(t, err)

	c := New(src, dst)
	res, err := c.CopyFile("config/master.key", "config/master.key", CopyOptions{CreateDirectories: true, Cipher: cipher})
	require.NoError(t, err)
	require.True(t, res.Encrypted)

	info, err := os.Stat(filepath.Join(dst, "config/master.key"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestCopyExplicitNoEncryptOverridesSensitive(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "secret.txt"), []byte("plain"), 0o644))

	no := false
	c := New(src, dst)
	res, err := c.CopyFile("secret.txt", "secret.txt", CopyOptions{CreateDirectories: true, Encrypt: &no})
	require.NoError(t, err)
	require.False(t, res.Encrypted)

	data, err := os.ReadFile(filepath.Join(dst, "secret.txt"))
	require.NoError(t, err)
	require.Equal(t, "plain", string(data))
}

func TestCopyDestinationExistsWithoutForce(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dst, "a.txt"), []byte("old"), 0o644))

	c := New(src, dst)
	_, err := c.CopyFile("a.txt", "a.txt", CopyOptions{})
	require.Error(t, err)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, KindDestinationExists, cerr.Kind)
}

func TestCopySourceMissing(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	c := New(src, dst)
	_, err := c.CopyFile("nope.txt", "nope.txt", CopyOptions{CreateDirectories: true})
	require.Error(t, err)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, KindSourceMissing, cerr.Kind)
}

func TestCreateSymlinkIsAbsolute(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("x"), 0o644))

	c := New(src, dst)
	res, err := c.CreateSymlink("a.txt", "link.txt", CopyOptions{CreateDirectories: true})
	require.NoError(t, err)
	require.Equal(t, OpSymlink, res.Operation)

	target, err := os.Readlink(filepath.Join(dst, "link.txt"))
	require.NoError(t, err)
	require.True(t, filepath.IsAbs(target))
}

func TestShouldEncrypt(t *testing.T) {
	require.True(t, ShouldEncrypt("config/master.key", nil))
	require.True(t, ShouldEncrypt("AUTH_TOKEN.txt", nil))
	require.False(t, ShouldEncrypt("README.md", nil))
	explicit := true
	require.True(t, ShouldEncrypt("README.md", &explicit))
}

func TestParsePermissions(t *testing.T) {
	m, err := ParsePermissions("0600")
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), m)

	m, err = ParsePermissions("644")
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o644), m)

	_, err = ParsePermissions("999")
	require.Error(t, err)
}

func TestCipherRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	c, err := NewStaticKeyCipher(key)
	require.NoError(t, err)

	sealed, err := c.Seal([]byte("top secret"))
	require.NoError(t, err)
	require.NotEqual(t, []byte("top secret"), sealed)

	opened, err := c.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, "top secret", string(opened))
}
