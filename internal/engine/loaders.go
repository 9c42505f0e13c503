package engine

import (
	"github.com/sxngo/sxngo/internal/filecopy"
	"github.com/sxngo/sxngo/internal/rules"
)

type copyFilesConfig struct {
	Files []struct {
		Source              string      `json:"source"`
		Destination         string      `json:"destination"`
		Strategy            string      `json:"strategy"`
		Permissions         interface{} `json:"permissions"`
		Encrypt             *bool       `json:"encrypt"`
		Required            *bool       `json:"required"`
		PreservePermissions bool        `json:"preserve_permissions"`
		CreateDirectories   bool        `json:"create_directories"`
	} `json:"files"`
}

func (e *Engine) loadCopyFiles(name string, deps []string, cfg map[string]interface{}) (rules.Rule, error) {
	var parsed copyFilesConfig
	if err := remarshal(cfg, &parsed); err != nil {
		return nil, &Error{Kind: KindMalformedRuleSpec, Msg: "rule " + name + ": " + err.Error()}
	}

	entries := make([]rules.CopyFileEntry, 0, len(parsed.Files))
	for _, f := range parsed.Files {
		entry := rules.CopyFileEntry{
			Source:              f.Source,
			Destination:         f.Destination,
			Strategy:            f.Strategy,
			Encrypt:             f.Encrypt,
			Required:            f.Required == nil || *f.Required,
			PreservePermissions: f.PreservePermissions,
			CreateDirectories:   f.CreateDirectories,
		}
		if f.Permissions != nil {
			mode, err := filecopy.ParsePermissions(f.Permissions)
			if err != nil {
				return nil, &Error{Kind: KindMalformedRuleSpec, Msg: "rule " + name + ": " + err.Error()}
			}
			entry.Permissions = &mode
		}
		entries = append(entries, entry)
	}

	return rules.NewCopyFilesRule(name, deps, entries, e.projectRoot, e.sessionRoot, e.cipher), nil
}

type setupCommandsConfig struct {
	Commands []struct {
		Command          []string          `json:"command"`
		Env              map[string]string `json:"env"`
		Timeout          int               `json:"timeout"`
		Condition        string            `json:"condition"`
		Description      string            `json:"description"`
		Required         *bool             `json:"required"`
		WorkingDirectory string            `json:"working_directory"`
	} `json:"commands"`
	ContinueOnFailure bool `json:"continue_on_failure"`
}

func (e *Engine) loadSetupCommands(name string, deps []string, cfg map[string]interface{}) (rules.Rule, error) {
	var parsed setupCommandsConfig
	if err := remarshal(cfg, &parsed); err != nil {
		return nil, &Error{Kind: KindMalformedRuleSpec, Msg: "rule " + name + ": " + err.Error()}
	}

	entries := make([]rules.CommandEntry, 0, len(parsed.Commands))
	for _, c := range parsed.Commands {
		entries = append(entries, rules.CommandEntry{
			Command:          c.Command,
			Env:              c.Env,
			TimeoutSeconds:   c.Timeout,
			Condition:        c.Condition,
			Description:      c.Description,
			Required:         c.Required == nil || *c.Required,
			WorkingDirectory: c.WorkingDirectory,
		})
	}

	return rules.NewSetupCommandsRule(name, deps, entries, parsed.ContinueOnFailure, e.sessionRoot, e.executor, e.allow), nil
}

type templateConfig struct {
	Templates []struct {
		Source      string                 `json:"source"`
		Destination string                 `json:"destination"`
		Engine      string                 `json:"engine"`
		Variables   map[string]interface{} `json:"variables"`
		Required    *bool                  `json:"required"`
		Overwrite   bool                   `json:"overwrite"`
	} `json:"templates"`
}

func (e *Engine) loadTemplate(name string, deps []string, cfg map[string]interface{}) (rules.Rule, error) {
	var parsed templateConfig
	if err := remarshal(cfg, &parsed); err != nil {
		return nil, &Error{Kind: KindMalformedRuleSpec, Msg: "rule " + name + ": " + err.Error()}
	}

	entries := make([]rules.TemplateEntry, 0, len(parsed.Templates))
	for _, t := range parsed.Templates {
		entries = append(entries, rules.TemplateEntry{
			Source:      t.Source,
			Destination: t.Destination,
			Engine:      t.Engine,
			Variables:   t.Variables,
			Required:    t.Required == nil || *t.Required,
			Overwrite:   t.Overwrite,
		})
	}

	return rules.NewTemplateRule(name, deps, entries, e.projectRoot, e.sessionRoot, e.sessionName, e.projectName), nil
}
