package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/titanous/json5"

	"github.com/sxngo/sxngo/internal/engine"
	"github.com/sxngo/sxngo/internal/rules"
	"github.com/sxngo/sxngo/internal/sessionstore"
)

// rulesDocument mirrors the on-disk shape of a rules configuration
// file: a rule name keyed map of {type, config, dependencies}. The
// engine itself never reads files — this struct exists only so the
// CLI can hand the engine an already-parsed engine.RuleSpec slice, per
// spec §1's non-goal that config-file discovery lives outside the core.
type rulesDocument map[string]struct {
	Type         string      `json:"type"`
	Config       interface{} `json:"config"`
	Dependencies []string    `json:"dependencies"`
}

// rulesRunFlags are the flags shared by `apply` and `validate`: both
// load the same rules document and construct the same engine, they
// differ only in engine.Options.ValidateOnly.
type rulesRunFlags struct {
	rulesPath         string
	projectRoot       string
	sessionRoot       string
	sessionName       string
	projectName       string
	maxParallelism    int
	continueOnFailure bool
	sequential        bool
	sessionID         string
	sessionDB         string
}

func bindRulesRunFlags(cmd *cobra.Command, f *rulesRunFlags) {
	cmd.Flags().StringVar(&f.rulesPath, "rules", "", "path to a JSON/JSON5 rules configuration file")
	cmd.Flags().StringVar(&f.projectRoot, "project-root", ".", "project root directory (read-only)")
	cmd.Flags().StringVar(&f.sessionRoot, "session-root", "", "session root directory (writable)")
	cmd.Flags().StringVar(&f.sessionName, "session-name", "", "session name, exposed to templates as session_name")
	cmd.Flags().StringVar(&f.projectName, "project-name", "", "project name, exposed to templates as project_name")
	cmd.Flags().IntVar(&f.maxParallelism, "max-parallelism", 4, "maximum concurrent rule applications per phase")
	cmd.Flags().BoolVar(&f.continueOnFailure, "continue-on-failure", false, "keep executing later phases after a rule fails")
	cmd.Flags().BoolVar(&f.sequential, "sequential", false, "disable within-phase parallelism")
	cmd.Flags().StringVar(&f.sessionID, "session-id", "", "session catalog id to record applied files against (optional)")
	cmd.Flags().StringVar(&f.sessionDB, "db", "", "path to the sessions database (default: <home>/.sxn/sessions.db)")
	_ = cmd.MarkFlagRequired("rules")
	_ = cmd.MarkFlagRequired("session-root")
}

// runRules loads the rules document named by f.rulesPath, constructs
// an Engine rooted at f.projectRoot/f.sessionRoot, and calls Apply.
func runRules(cmd *cobra.Command, f rulesRunFlags, validateOnly bool) error {
	data, err := os.ReadFile(f.rulesPath)
	if err != nil {
		return fmt.Errorf("read rules file: %w", err)
	}
	var doc rulesDocument
	if err := json5.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse rules file: %w", err)
	}

	specs := make([]engine.RuleSpec, 0, len(doc))
	for name, entry := range doc {
		specs = append(specs, engine.RuleSpec{
			Name:         name,
			Type:         entry.Type,
			Config:       entry.Config,
			Dependencies: entry.Dependencies,
		})
	}

	absProject, err := filepath.Abs(f.projectRoot)
	if err != nil {
		return fmt.Errorf("resolve project root: %w", err)
	}
	absSession, err := filepath.Abs(f.sessionRoot)
	if err != nil {
		return fmt.Errorf("resolve session root: %w", err)
	}

	eng := engine.New(absProject, absSession, f.sessionName, f.projectName, nil, nil)

	opts := engine.DefaultOptions()
	opts.MaxParallelism = f.maxParallelism
	opts.ContinueOnFailure = f.continueOnFailure
	opts.ValidateOnly = validateOnly
	opts.Parallel = !f.sequential

	result, err := eng.Apply(cmd.Context(), specs, opts)
	if err != nil {
		return fmt.Errorf("apply rules: %w", err)
	}

	if !validateOnly && f.sessionID != "" {
		if err := recordAppliedFiles(f.sessionDB, f.sessionID, result); err != nil {
			return fmt.Errorf("record applied files: %w", err)
		}
	}

	return printExecutionResult(cmd, result)
}

// recordAppliedFiles catalogs every file/symlink/template change an
// Apply run produced against the named session, so `sessions show`
// reflects what the rules engine actually wrote.
func recordAppliedFiles(dbPath, sessionID string, result *engine.ExecutionResult) error {
	store, err := sessionstore.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()

	for _, r := range result.Applied {
		for _, c := range r.Changes() {
			if c.Kind != rules.FileCreated && c.Kind != rules.SymlinkCreated {
				continue
			}
			checksum, _ := c.Metadata["checksum"].(string)
			if _, err := store.RecordFile(sessionID, sessionstore.File{
				Path:     c.Target,
				Kind:     c.Kind.String(),
				Checksum: checksum,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func applyCmd() *cobra.Command {
	var flags rulesRunFlags

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a rules configuration against a session directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRules(cmd, flags, false)
		},
	}
	bindRulesRunFlags(cmd, &flags)

	return cmd
}

func validateCmd() *cobra.Command {
	var flags rulesRunFlags

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a rules configuration without applying it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRules(cmd, flags, true)
		},
	}
	bindRulesRunFlags(cmd, &flags)

	return cmd
}

// executionResultJSON is the serializable shape described in spec §6.
type executionResultJSON struct {
	Success       bool                   `json:"success"`
	TotalRules    int                    `json:"total_rules"`
	AppliedRules  []string               `json:"applied_rules"`
	FailedRules   []string               `json:"failed_rules"`
	SkippedRules  []string               `json:"skipped_rules"`
	TotalDuration float64                `json:"total_duration"`
	Errors        []executionResultError `json:"errors"`
}

type executionResultError struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

func printExecutionResult(cmd *cobra.Command, result *engine.ExecutionResult) error {
	out := executionResultJSON{
		Success:       result.Success(),
		TotalRules:    len(result.Applied) + len(result.Failed) + len(result.Skipped),
		TotalDuration: result.TotalDuration.Seconds(),
	}
	for _, r := range result.Applied {
		out.AppliedRules = append(out.AppliedRules, r.Name())
	}
	for _, f := range result.Failed {
		out.FailedRules = append(out.FailedRules, f.Rule.Name())
		out.Errors = append(out.Errors, executionResultError{Rule: f.Rule.Name(), Message: f.Err.Error()})
	}
	for _, s := range result.Skipped {
		out.SkippedRules = append(out.SkippedRules, s.Name)
	}
	for _, e := range result.EngineErrors {
		out.Errors = append(out.Errors, executionResultError{Message: e.Error()})
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if !out.Success {
		cmd.SilenceUsage = true
		cmd.SilenceErrors = true
		os.Exit(1)
	}
	return nil
}
