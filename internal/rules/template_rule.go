package rules

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sxngo/sxngo/internal/pathsandbox"
	"github.com/sxngo/sxngo/internal/template"
)

var recognizedEngines = map[string]bool{"liquid": true}

// TemplateEntry is one template in a TemplateRule's config.
type TemplateEntry struct {
	Source      string
	Destination string
	Engine      string // default "liquid"; the renderer itself ignores this, it is a pass-through label
	Variables   map[string]interface{}
	Required    bool // default true
	Overwrite   bool
}

// TemplateRule renders templates from the project root into the
// session root, substituting a merged variable tree.
type TemplateRule struct {
	envelope
	templates      []TemplateEntry
	projectRoot    string
	sessionRoot    string
	sessionName    string
	projectName    string
}

// NewTemplateRule constructs a TemplateRule.
func NewTemplateRule(name string, deps []string, templates []TemplateEntry, projectRoot, sessionRoot, sessionName, projectName string) *TemplateRule {
	for i := range templates {
		if templates[i].Engine == "" {
			templates[i].Engine = "liquid"
		}
	}
	return &TemplateRule{
		envelope:    newEnvelope(name, deps),
		templates:   templates,
		projectRoot: projectRoot,
		sessionRoot: sessionRoot,
		sessionName: sessionName,
		projectName: projectName,
	}
}

func (r *TemplateRule) Validate(ctx context.Context) error {
	r.transition(Validating)
	if len(r.templates) == 0 {
		return r.fail(newErr(KindBadConfig, r.Name(), "templates list must not be empty"))
	}
	for _, t := range r.templates {
		if t.Source == "" {
			return r.fail(newErr(KindBadConfig, r.Name(), "template source must not be empty"))
		}
		if t.Destination == "" || filepath.IsAbs(t.Destination) || strings.Contains("/"+filepath.ToSlash(t.Destination)+"/", "/../") {
			return r.fail(newErr(KindBadConfig, r.Name(), fmt.Sprintf("invalid destination %q", t.Destination)))
		}
		if _, err := pathsandbox.Contain(r.sessionRoot, t.Destination, pathsandbox.Options{AllowCreate: true}); err != nil {
			return r.fail(newErr(KindBadConfig, r.Name(), fmt.Sprintf("invalid destination %q: %s", t.Destination, err.Error())))
		}
		if !recognizedEngines[t.Engine] {
			return r.fail(newErr(KindBadConfig, r.Name(), fmt.Sprintf("unrecognized engine %q", t.Engine)))
		}
		srcPath, err := pathsandbox.Contain(r.projectRoot, t.Source, pathsandbox.Options{})
		if err != nil {
			if t.Required {
				return r.fail(newErr(KindMissingRequiredSource, r.Name(), fmt.Sprintf("required template missing: %s", t.Source)))
			}
			continue
		}
		data, err := os.ReadFile(srcPath)
		if err != nil {
			if t.Required {
				return r.fail(newErr(KindMissingRequiredSource, r.Name(), fmt.Sprintf("required template missing: %s", t.Source)))
			}
			continue
		}
		if err := template.Validate(string(data)); err != nil {
			return r.fail(newErr(KindTemplateSyntax, r.Name(), err.Error()))
		}
	}
	r.transition(Validated)
	return nil
}

func (r *TemplateRule) Apply(ctx context.Context) error {
	r.transition(Applying)
	for _, t := range r.templates {
		srcPath, err := pathsandbox.Contain(r.projectRoot, t.Source, pathsandbox.Options{})
		if err != nil {
			if t.Required {
				return r.fail(newErr(KindMissingRequiredSource, r.Name(), fmt.Sprintf("required template missing: %s", t.Source)))
			}
			continue
		}
		data, err := os.ReadFile(srcPath)
		if err != nil {
			if t.Required {
				return r.fail(newErr(KindMissingRequiredSource, r.Name(), fmt.Sprintf("required template missing: %s", t.Source)))
			}
			continue
		}

		dstPath, err := pathsandbox.Contain(r.sessionRoot, t.Destination, pathsandbox.Options{AllowCreate: true})
		if err != nil {
			return r.fail(newErr(KindIO, r.Name(), err.Error()))
		}

		vars := r.buildVariables(t, srcPath, dstPath)
		rendered, err := template.Render(string(data), vars)
		if err != nil {
			return r.fail(newErr(KindTemplateProcessing, r.Name(), err.Error()))
		}

		if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
			return r.fail(newErr(KindIO, r.Name(), err.Error()))
		}

		var backupPath string
		if existing, statErr := os.Stat(dstPath); statErr == nil && !existing.IsDir() {
			if !t.Overwrite {
				return r.fail(newErr(KindIO, r.Name(), fmt.Sprintf("destination exists and overwrite not set: %s", t.Destination)))
			}
			backupPath = fmt.Sprintf("%s.backup.%d", dstPath, time.Now().Unix())
			if err := os.Rename(dstPath, backupPath); err != nil {
				return r.fail(newErr(KindIO, r.Name(), err.Error()))
			}
		}

		if err := os.WriteFile(dstPath, []byte(rendered), 0o644); err != nil {
			return r.fail(newErr(KindIO, r.Name(), err.Error()))
		}
		if err := os.Chmod(dstPath, 0o644); err != nil {
			return r.fail(newErr(KindIO, r.Name(), err.Error()))
		}

		metadata := map[string]interface{}{
			"source":         t.Source,
			"template":       true,
			"variables_used": sortedKeys(template.ExtractVariableNames(string(data))),
		}
		if backupPath != "" {
			metadata["backup_path"] = backupPath
		}
		r.record(Change{
			Kind:      FileCreated,
			Target:    dstPath,
			Metadata:  metadata,
			Timestamp: time.Now(),
		})
	}
	r.transition(Applied)
	return nil
}

func (r *TemplateRule) Rollback(ctx context.Context) error {
	r.transition(RollingBack)
	var lastErr error
	for i := len(r.changes) - 1; i >= 0; i-- {
		c := r.changes[i]
		if c.Kind != FileCreated {
			continue
		}
		if err := os.Remove(c.Target); err != nil && !os.IsNotExist(err) {
			lastErr = err
			continue
		}
		if backup, ok := c.Metadata["backup_path"].(string); ok && backup != "" {
			if err := os.Rename(backup, c.Target); err != nil {
				lastErr = err
			}
		}
	}
	if lastErr != nil {
		r.transition(Failed)
		return newErr(KindIO, r.Name(), lastErr.Error())
	}
	r.transition(RolledBack)
	return nil
}

// buildVariables merges auto-derived context, the rule's configured
// variables, and per-template metadata, later sources overriding
// earlier ones (spec 4.E).
func (r *TemplateRule) buildVariables(t TemplateEntry, srcPath, dstPath string) template.Value {
	auto := map[string]template.Value{
		"timestamp": template.Scalar(time.Now().UTC().Format(time.RFC3339)),
	}
	if r.sessionName != "" {
		auto["session_name"] = template.Scalar(r.sessionName)
	}
	if r.projectName != "" {
		auto["project_name"] = template.Scalar(r.projectName)
	}

	configured := make(map[string]template.Value, len(t.Variables))
	for k, v := range t.Variables {
		configured[k] = template.FromAny(v)
	}

	perTemplate := map[string]template.Value{
		"template": template.Map(map[string]template.Value{
			"source":       template.Scalar(t.Source),
			"destination":  template.Scalar(t.Destination),
			"processed_at": template.Scalar(time.Now().UTC().Format(time.RFC3339)),
		}),
	}

	return template.Merge(template.Map(auto), template.Map(configured), template.Map(perTemplate))
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
