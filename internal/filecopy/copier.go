// Package filecopy implements the Secure File Copier: path-sandboxed
// file copy/symlink/chmod with sensitive-file detection and optional
// AES-256-GCM at-rest encryption.
package filecopy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/sxngo/sxngo/internal/pathsandbox"
)

// Kind identifies the category of an Error.
type Kind int

const (
	KindPathEscape Kind = iota
	KindSourceMissing
	KindDestinationExists
	KindIO
	KindEncryption
)

func (k Kind) String() string {
	switch k {
	case KindPathEscape:
		return "PathEscape"
	case KindSourceMissing:
		return "SourceMissing"
	case KindDestinationExists:
		return "DestinationExists"
	case KindIO:
		return "IoError"
	case KindEncryption:
		return "EncryptionError"
	default:
		return "Unknown"
	}
}

// Error is returned by Copier operations.
type Error struct {
	Kind Kind
	Path string
	Msg  string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s: %s", e.Kind, e.Path, e.Msg) }

func newErr(kind Kind, path, msg string) *Error { return &Error{Kind: kind, Path: path, Msg: msg} }

// sensitivePatterns are matched (case-insensitively where noted) against
// the relative source path to infer should_encrypt.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`master\.key$`),
	regexp.MustCompile(`credentials.*\.key$`),
	regexp.MustCompile(`\.env\..*key`),
	regexp.MustCompile(`(?i)auth.*token`),
	regexp.MustCompile(`(?i)secret`),
}

// IsSensitive reports whether relSource matches the sensitive-file
// detection table.
func IsSensitive(relSource string) bool {
	for _, re := range sensitivePatterns {
		if re.MatchString(relSource) {
			return true
		}
	}
	return false
}

// ShouldEncrypt implements spec 4.C's should_encrypt rule: the
// explicit option when present, else the sensitive-pattern match.
func ShouldEncrypt(relSource string, explicit *bool) bool {
	if explicit != nil {
		return *explicit
	}
	return IsSensitive(relSource)
}

// Operation identifies what CopyResult describes.
type Operation int

const (
	OpCopy Operation = iota
	OpSymlink
	OpChmod
)

// CopyOptions controls a single copy operation.
type CopyOptions struct {
	Permissions         *os.FileMode // nil = use default below
	Encrypt             *bool        // nil = infer from sensitivity
	PreservePermissions bool
	CreateDirectories   bool // default true; caller must set explicitly when constructing
	Force               bool // allow overwriting an existing destination
	Cipher              Cipher
}

// CopyResult describes a completed copy/symlink/chmod operation.
type CopyResult struct {
	Source      string
	Destination string
	Operation   Operation
	Encrypted   bool
	Checksum    string // SHA-256 hex of destination bytes, copy only
}

// Copier performs sandboxed file operations between a source root
// (project) and a destination root (session).
type Copier struct {
	sourceRoot string
	destRoot   string
}

// New creates a Copier rooted at sourceRoot (reads) and destRoot
// (writes).
func New(sourceRoot, destRoot string) *Copier {
	return &Copier{sourceRoot: sourceRoot, destRoot: destRoot}
}

const (
	defaultFileMode      os.FileMode = 0o644
	defaultDirMode       os.FileMode = 0o755
	defaultSensitiveMode os.FileMode = 0o600
)

// CopyFile copies relSource (relative to the source root) to
// relDestination (relative to the destination root).
func (c *Copier) CopyFile(relSource, relDestination string, opts CopyOptions) (*CopyResult, error) {
	srcPath, err := pathsandbox.Contain(c.sourceRoot, relSource, pathsandbox.Options{})
	if err != nil {
		return nil, newErr(KindPathEscape, relSource, err.Error())
	}
	if _, statErr := os.Stat(srcPath); statErr != nil {
		if os.IsNotExist(statErr) {
			return nil, newErr(KindSourceMissing, relSource, "source does not exist")
		}
		return nil, newErr(KindIO, relSource, statErr.Error())
	}

	dstPath, err := pathsandbox.Contain(c.destRoot, relDestination, pathsandbox.Options{AllowCreate: true})
	if err != nil {
		return nil, newErr(KindPathEscape, relDestination, err.Error())
	}

	if _, statErr := os.Lstat(dstPath); statErr == nil && !opts.Force {
		return nil, newErr(KindDestinationExists, relDestination, "destination exists and force not set")
	}

	if opts.CreateDirectories {
		if err := os.MkdirAll(filepath.Dir(dstPath), defaultDirMode); err != nil {
			return nil, newErr(KindIO, relDestination, err.Error())
		}
	}

	data, err := os.ReadFile(srcPath)
	if err != nil {
		return nil, newErr(KindIO, relSource, err.Error())
	}

	shouldEncrypt := ShouldEncrypt(relSource, opts.Encrypt)
	if shouldEncrypt && opts.Cipher == nil {
		if opts.Encrypt != nil && *opts.Encrypt {
			// Explicit encrypt=true with no key-provisioning policy wired
			// in is a hard error (spec 4.C's open question on key
			// provisioning; the engine itself holds no keys).
			return nil, newErr(KindEncryption, relSource, "encrypt requested but no Cipher provided")
		}
		// Inferred-sensitive (no explicit option) with no Cipher
		// configured: fall back to a plaintext copy rather than failing
		// the whole rule — the sensitive-mode 0600 default still applies.
		shouldEncrypt = false
	}
	if shouldEncrypt {
		sealed, err := opts.Cipher.Seal(data)
		if err != nil {
			return nil, newErr(KindEncryption, relSource, err.Error())
		}
		data = sealed
	}

	mode := c.resolveMode(relSource, defaultFileMode, opts)
	if opts.PreservePermissions {
		if srcInfo, err := os.Stat(srcPath); err == nil {
			mode = srcInfo.Mode().Perm()
		}
	}

	if err := os.WriteFile(dstPath, data, mode); err != nil {
		return nil, newErr(KindIO, relDestination, err.Error())
	}
	if err := os.Chmod(dstPath, mode); err != nil {
		return nil, newErr(KindIO, relDestination, err.Error())
	}

	sum := sha256.Sum256(data)
	return &CopyResult{
		Source:      srcPath,
		Destination: dstPath,
		Operation:   OpCopy,
		Encrypted:   shouldEncrypt,
		Checksum:    hex.EncodeToString(sum[:]),
	}, nil
}

// resolveMode picks the destination file mode: explicit permissions
// option, else 0600 for sensitive files, else the supplied default.
func (c *Copier) resolveMode(relSource string, dflt os.FileMode, opts CopyOptions) os.FileMode {
	if opts.Permissions != nil {
		return *opts.Permissions
	}
	if IsSensitive(relSource) {
		return defaultSensitiveMode
	}
	return dflt
}

// CreateSymlink creates an absolute symlink at relDestination pointing
// at the canonical location of relSource under the source root.
func (c *Copier) CreateSymlink(relSource, relDestination string, opts CopyOptions) (*CopyResult, error) {
	srcPath, err := pathsandbox.Contain(c.sourceRoot, relSource, pathsandbox.Options{})
	if err != nil {
		return nil, newErr(KindPathEscape, relSource, err.Error())
	}
	if _, statErr := os.Stat(srcPath); statErr != nil {
		if os.IsNotExist(statErr) {
			return nil, newErr(KindSourceMissing, relSource, "source does not exist")
		}
		return nil, newErr(KindIO, relSource, statErr.Error())
	}

	dstPath, err := pathsandbox.Contain(c.destRoot, relDestination, pathsandbox.Options{AllowCreate: true})
	if err != nil {
		return nil, newErr(KindPathEscape, relDestination, err.Error())
	}

	if _, statErr := os.Lstat(dstPath); statErr == nil {
		if !opts.Force {
			return nil, newErr(KindDestinationExists, relDestination, "destination exists and force not set")
		}
		if err := os.Remove(dstPath); err != nil {
			return nil, newErr(KindIO, relDestination, err.Error())
		}
	}

	if opts.CreateDirectories {
		if err := os.MkdirAll(filepath.Dir(dstPath), defaultDirMode); err != nil {
			return nil, newErr(KindIO, relDestination, err.Error())
		}
	}

	if err := os.Symlink(srcPath, dstPath); err != nil {
		return nil, newErr(KindIO, relDestination, err.Error())
	}

	return &CopyResult{
		Source:      srcPath,
		Destination: dstPath,
		Operation:   OpSymlink,
	}, nil
}

// Chmod sets the mode of relDestination (relative to the destination
// root) to mode.
func (c *Copier) Chmod(relDestination string, mode os.FileMode) (*CopyResult, error) {
	dstPath, err := pathsandbox.Contain(c.destRoot, relDestination, pathsandbox.Options{})
	if err != nil {
		return nil, newErr(KindPathEscape, relDestination, err.Error())
	}
	if err := os.Chmod(dstPath, mode); err != nil {
		return nil, newErr(KindIO, relDestination, err.Error())
	}
	return &CopyResult{Destination: dstPath, Operation: OpChmod}, nil
}

// ParsePermissions accepts either an octal string ("0644"/"644") or an
// integer in [0, 0o777] and returns the corresponding os.FileMode.
func ParsePermissions(v interface{}) (os.FileMode, error) {
	switch t := v.(type) {
	case string:
		n, err := strconv.ParseInt(t, 8, 32)
		if err != nil {
			return 0, fmt.Errorf("filecopy: invalid octal permissions %q", t)
		}
		if n < 0 || n > 0o777 {
			return 0, fmt.Errorf("filecopy: permissions out of range: %q", t)
		}
		return os.FileMode(n), nil
	case int:
		if t < 0 || t > 0o777 {
			return 0, fmt.Errorf("filecopy: permissions out of range: %d", t)
		}
		return os.FileMode(t), nil
	case float64:
		n := int(t)
		if n < 0 || n > 0o777 {
			return 0, fmt.Errorf("filecopy: permissions out of range: %v", t)
		}
		return os.FileMode(n), nil
	default:
		return 0, fmt.Errorf("filecopy: unsupported permissions value type %T", v)
	}
}
