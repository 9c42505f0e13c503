// Package pathsandbox canonicalizes filesystem paths and asserts they
// resolve inside a declared root, rejecting traversal, absolute escapes,
// and symlink escapes.
package pathsandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// Kind identifies the category of a Error.
type Kind int

const (
	KindPathEscape Kind = iota
	KindNotContained
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindPathEscape:
		return "PathEscape"
	case KindNotContained:
		return "NotContained"
	case KindIO:
		return "IoError"
	default:
		return "Unknown"
	}
}

// Error is returned by Contain on any sandbox violation.
type Error struct {
	Kind Kind
	Path string
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Path, e.Msg)
}

func newErr(kind Kind, path, msg string) *Error {
	return &Error{Kind: kind, Path: path, Msg: msg}
}

// Options controls Contain behavior.
type Options struct {
	// AllowCreate permits trailing path components that do not yet
	// exist (a new file, possibly under directories not yet created):
	// the deepest existing ancestor is canonicalized and the result must
	// still lie inside root. Used for write targets (copy destinations,
	// rendered template outputs).
	AllowCreate bool
}

// Contain canonicalizes root and candidate, then asserts the canonical
// candidate is root itself or a descendant of it. It returns the
// canonical absolute path on success.
//
// Rejections: a nonexistent path (unless AllowCreate, which accepts any
// number of missing trailing components), any traversal that
// escapes root, symlinks (including broken-symlink chains) whose
// target lies outside root, mutable-parent symlink components (a
// TOCTOU rebind risk), and hardlinked regular files.
func Contain(root, candidate string, opts Options) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", newErr(KindIO, root, err.Error())
	}
	rootReal, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return "", newErr(KindIO, root, "root does not exist: "+err.Error())
	}

	var resolved string
	if filepath.IsAbs(candidate) {
		resolved = filepath.Clean(candidate)
	} else {
		resolved = filepath.Clean(filepath.Join(rootReal, candidate))
	}

	real, err := resolveCanonical(resolved, opts.AllowCreate)
	if err != nil {
		var sberr *Error
		if errors.As(err, &sberr) {
			return "", sberr
		}
		return "", newErr(KindIO, candidate, err.Error())
	}

	if !isPathInside(real, rootReal) {
		return "", newErr(KindPathEscape, candidate, "resolves outside root "+rootReal)
	}

	if hasMutableSymlinkParent(real) {
		return "", newErr(KindPathEscape, candidate, "path contains a mutable symlink component")
	}

	if err := rejectHardlink(real); err != nil {
		return "", err
	}

	return real, nil
}

// resolveCanonical follows all symlinks in path, including chains
// through broken/dangling links, and handles not-yet-existing final
// components when allowCreate is set.
func resolveCanonical(path string, allowCreate bool) (string, error) {
	if real, err := filepath.EvalSymlinks(path); err == nil {
		return real, nil
	} else if !os.IsNotExist(err) {
		return "", newErr(KindIO, path, err.Error())
	}

	// path itself may be a broken symlink: Lstat succeeds, EvalSymlinks
	// above failed on the target.
	if linfo, lerr := os.Lstat(path); lerr == nil && linfo.Mode()&os.ModeSymlink != 0 {
		target, rerr := os.Readlink(path)
		if rerr != nil {
			return "", newErr(KindIO, path, "cannot read symlink target")
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(path), target)
		}
		return resolveThroughExistingAncestors(filepath.Clean(target))
	}

	if !allowCreate {
		return "", newErr(KindNotContained, path, "does not exist")
	}

	// One or more trailing components are missing (a fresh destination
	// file, possibly under directories that don't exist yet): resolve
	// the deepest existing ancestor and re-attach the rest, the same
	// way a broken-symlink target is resolved above.
	return resolveThroughExistingAncestors(path)
}

// resolveThroughExistingAncestors resolves a (possibly nonexistent)
// target path by canonicalizing the deepest existing ancestor and
// re-appending the remaining path components. This catches chained
// broken symlinks (link1 -> link2 -> /outside) whose intermediate
// targets escape the root.
func resolveThroughExistingAncestors(target string) (string, error) {
	if real, err := filepath.EvalSymlinks(target); err == nil {
		return real, nil
	}

	current := target
	var tail []string
	for {
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		tail = append([]string{filepath.Base(current)}, tail...)
		current = parent

		if realParent, err := filepath.EvalSymlinks(current); err == nil {
			result := realParent
			for _, comp := range tail {
				result = filepath.Join(result, comp)
			}
			return result, nil
		}
	}
	return filepath.Clean(target), nil
}

func isPathInside(child, parent string) bool {
	if child == parent {
		return true
	}
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}

// hasMutableSymlinkParent reports whether any path component is a
// symlink whose containing directory is writable by this process —
// meaning the symlink could be rebound between resolution and use.
func hasMutableSymlinkParent(path string) bool {
	clean := filepath.Clean(path)
	components := strings.Split(clean, string(filepath.Separator))
	current := string(filepath.Separator)
	for _, comp := range components {
		if comp == "" {
			continue
		}
		current = filepath.Join(current, comp)
		info, err := os.Lstat(current)
		if err != nil {
			break
		}
		if info.Mode()&os.ModeSymlink != 0 {
			parentDir := filepath.Dir(current)
			if syscall.Access(parentDir, 0x2 /* W_OK */) == nil {
				return true
			}
		}
	}
	return false
}

// rejectHardlink rejects regular files with more than one hard link.
// Directories are exempt (they naturally have nlink > 1).
func rejectHardlink(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return nil // nonexistent: fine, caller will fail at use time
	}
	if info.IsDir() {
		return nil
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		if stat.Nlink > 1 {
			return newErr(KindPathEscape, path, "hardlinked file not allowed")
		}
	}
	return nil
}
