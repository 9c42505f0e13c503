package rules

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/sxngo/sxngo/internal/filecopy"
)

// CopyFileEntry is one file in a CopyFilesRule's config.
type CopyFileEntry struct {
	Source              string
	Destination         string // defaults to Source when empty
	Strategy            string // "copy" | "symlink", default "copy"
	Permissions         *os.FileMode
	Encrypt             *bool
	Required            bool // default true
	PreservePermissions bool
	CreateDirectories   bool // not read by Apply: the destination's parent directories are always created
}

var strategyRE = regexp.MustCompile(`^(copy|symlink)$`)

// CopyFilesRule copies or symlinks a set of project files into the
// session root.
type CopyFilesRule struct {
	envelope
	files       []CopyFileEntry
	projectRoot string
	sessionRoot string
	copier      *filecopy.Copier
	cipher      filecopy.Cipher
}

// NewCopyFilesRule constructs a CopyFilesRule. cipher may be nil; it is
// only required when an entry's Encrypt resolves true.
func NewCopyFilesRule(name string, deps []string, files []CopyFileEntry, projectRoot, sessionRoot string, cipher filecopy.Cipher) *CopyFilesRule {
	for i := range files {
		if files[i].Destination == "" {
			files[i].Destination = files[i].Source
		}
		if files[i].Strategy == "" {
			files[i].Strategy = "copy"
		}
	}
	return &CopyFilesRule{
		envelope:    newEnvelope(name, deps),
		files:       files,
		projectRoot: projectRoot,
		sessionRoot: sessionRoot,
		copier:      filecopy.New(projectRoot, sessionRoot),
		cipher:      cipher,
	}
}

func (r *CopyFilesRule) Validate(ctx context.Context) error {
	r.transition(Validating)
	if len(r.files) == 0 {
		return r.fail(newErr(KindBadConfig, r.Name(), "files list must not be empty"))
	}
	for _, f := range r.files {
		if f.Source == "" {
			return r.fail(newErr(KindBadConfig, r.Name(), "entry source must not be empty"))
		}
		if !strategyRE.MatchString(f.Strategy) {
			return r.fail(newErr(KindBadConfig, r.Name(), fmt.Sprintf("invalid strategy %q", f.Strategy)))
		}
		if f.Permissions != nil && (*f.Permissions < 0 || *f.Permissions > 0o777) {
			return r.fail(newErr(KindBadConfig, r.Name(), fmt.Sprintf("permissions out of range for %s", f.Source)))
		}
		if f.Strategy == "symlink" && f.Encrypt != nil && *f.Encrypt {
			slog.Warn("rules.copy_files.encrypt_ignored_for_symlink", "rule", r.Name(), "source", f.Source)
		}
	}
	for _, f := range r.files {
		if !f.Required {
			continue
		}
		srcPath := filepath.Join(r.projectRoot, f.Source)
		if _, err := os.Stat(srcPath); err != nil {
			return r.fail(newErr(KindMissingRequiredSource, r.Name(), fmt.Sprintf("required source missing: %s", f.Source)))
		}
	}
	r.transition(Validated)
	return nil
}

func (r *CopyFilesRule) Apply(ctx context.Context) error {
	r.transition(Applying)
	for _, f := range r.files {
		if _, err := os.Stat(filepath.Join(r.projectRoot, f.Source)); err != nil {
			if f.Required {
				return r.fail(newErr(KindMissingRequiredSource, r.Name(), fmt.Sprintf("required source missing: %s", f.Source)))
			}
			continue // optional and absent: skip silently
		}

		opts := filecopy.CopyOptions{
			Permissions:         f.Permissions,
			Encrypt:             f.Encrypt,
			PreservePermissions: f.PreservePermissions,
			CreateDirectories:   true,
			Force:               false,
			Cipher:              r.cipher,
		}

		if f.Strategy == "symlink" {
			res, err := r.copier.CreateSymlink(f.Source, f.Destination, opts)
			if err != nil {
				return r.fail(newErr(KindIO, r.Name(), err.Error()))
			}
			r.record(Change{
				Kind:   SymlinkCreated,
				Target: res.Destination,
				Metadata: map[string]interface{}{
					"source":   f.Source,
					"strategy": "symlink",
				},
				Timestamp: time.Now(),
			})
			continue
		}

		res, err := r.copier.CopyFile(f.Source, f.Destination, opts)
		if err != nil {
			return r.fail(newErr(KindIO, r.Name(), err.Error()))
		}
		r.record(Change{
			Kind:   FileCreated,
			Target: res.Destination,
			Metadata: map[string]interface{}{
				"source":    f.Source,
				"strategy":  "copy",
				"encrypted": res.Encrypted,
				"checksum":  res.Checksum,
			},
			Timestamp: time.Now(),
		})
	}
	r.transition(Applied)
	return nil
}

func (r *CopyFilesRule) Rollback(ctx context.Context) error {
	r.transition(RollingBack)
	var lastErr error
	for i := len(r.changes) - 1; i >= 0; i-- {
		c := r.changes[i]
		if c.Kind != FileCreated && c.Kind != SymlinkCreated {
			continue
		}
		if err := os.Remove(c.Target); err != nil && !os.IsNotExist(err) {
			lastErr = err
		}
	}
	if lastErr != nil {
		r.transition(Failed)
		return newErr(KindIO, r.Name(), lastErr.Error())
	}
	r.transition(RolledBack)
	return nil
}
