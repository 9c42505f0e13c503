package rules

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/sxngo/sxngo/internal/cmdallow"
	"github.com/sxngo/sxngo/internal/cmdexec"
	"github.com/sxngo/sxngo/internal/pathsandbox"
)

const defaultCommandTimeout = 60

// CommandEntry is one command in a SetupCommandsRule's config.
type CommandEntry struct {
	Command          []string
	Env              map[string]string
	TimeoutSeconds   int // 0 means defaultCommandTimeout
	Condition        string // default "always"
	Description      string
	Required         bool
	WorkingDirectory string // relative to session root
}

// SetupCommandsRule runs a sequence of allow-listed commands, each
// gated by an optional filesystem/environment condition.
type SetupCommandsRule struct {
	envelope
	commands          []CommandEntry
	continueOnFailure bool
	sessionRoot       string
	executor          *cmdexec.Executor
	allow             *cmdallow.List
}

// NewSetupCommandsRule constructs a SetupCommandsRule. allow is
// consulted during Validate so command-not-allowed is caught before
// any process is spawned; nil uses the default allow-list.
func NewSetupCommandsRule(name string, deps []string, commands []CommandEntry, continueOnFailure bool, sessionRoot string, executor *cmdexec.Executor, allow *cmdallow.List) *SetupCommandsRule {
	for i := range commands {
		if commands[i].Condition == "" {
			commands[i].Condition = "always"
		}
		if commands[i].TimeoutSeconds == 0 {
			commands[i].TimeoutSeconds = defaultCommandTimeout
		}
		if commands[i].WorkingDirectory == "" {
			commands[i].WorkingDirectory = "."
		}
	}
	if allow == nil {
		allow = cmdallow.Default()
	}
	return &SetupCommandsRule{
		envelope:          newEnvelope(name, deps),
		commands:          commands,
		continueOnFailure: continueOnFailure,
		sessionRoot:       sessionRoot,
		executor:          executor,
		allow:             allow,
	}
}

var validConditionPrefixes = []string{
	"file_exists:", "file_missing:", "directory_exists:", "directory_missing:",
	"command_available:", "env_var_set:",
}

func (r *SetupCommandsRule) Validate(ctx context.Context) error {
	r.transition(Validating)
	if len(r.commands) == 0 {
		return r.fail(newErr(KindBadConfig, r.Name(), "commands list must not be empty"))
	}
	for _, c := range r.commands {
		if len(c.Command) == 0 {
			return r.fail(newErr(KindBadConfig, r.Name(), "command argv must not be empty"))
		}
		if !r.allow.IsAllowed(c.Command) {
			return r.fail(newErr(KindCommandNotAllowed, r.Name(), fmt.Sprintf("command not in allow-list: %s", c.Command[0])))
		}
		if c.TimeoutSeconds > 1800 {
			return r.fail(newErr(KindBadConfig, r.Name(), fmt.Sprintf("timeout exceeds 1800s: %d", c.TimeoutSeconds)))
		}
		if c.Condition != "always" && !validCondition(c.Condition) {
			return r.fail(newErr(KindBadConfig, r.Name(), fmt.Sprintf("unrecognized condition %q", c.Condition)))
		}
	}
	r.transition(Validated)
	return nil
}

func validCondition(cond string) bool {
	for _, prefix := range validConditionPrefixes {
		if strings.HasPrefix(cond, prefix) {
			return true
		}
	}
	return false
}

func (r *SetupCommandsRule) Apply(ctx context.Context) error {
	r.transition(Applying)
	for _, c := range r.commands {
		ok, err := r.evaluate(c.Condition)
		if err != nil {
			return r.fail(newErr(KindBadConfig, r.Name(), err.Error()))
		}
		if !ok {
			continue
		}

		cwd := c.WorkingDirectory

		start := time.Now()
		result, err := r.executor.Execute(ctx, c.Command, c.Env, cwd, c.TimeoutSeconds)
		if err != nil {
			if c.Required || !r.continueOnFailure {
				return r.fail(newErr(KindCommandFailed, r.Name(), err.Error()))
			}
			continue
		}

		r.record(Change{
			Kind:   CommandExecuted,
			Target: strings.Join(c.Command, " "),
			Metadata: map[string]interface{}{
				"argv":        c.Command,
				"cwd":         cwd,
				"env":         c.Env,
				"exit_status": result.ExitStatus,
				"duration_ms": time.Since(start).Milliseconds(),
			},
			Timestamp: time.Now(),
		})

		if !result.OK {
			if r.continueOnFailure {
				continue
			}
			return r.fail(newErr(KindCommandFailed, r.Name(), fmt.Sprintf("command exited %d: %s", result.ExitStatus, strings.Join(c.Command, " "))))
		}
	}
	r.transition(Applied)
	return nil
}

// Rollback is a no-op: command execution is not reversible. It only
// annotates the audit log.
func (r *SetupCommandsRule) Rollback(ctx context.Context) error {
	r.transition(RollingBack)
	slog.Info("rules.setup_commands.rollback_noop", "rule", r.Name(), "commands_executed", len(r.changes))
	r.transition(RolledBack)
	return nil
}

// statSandboxed resolves arg against the session root through the Path
// Sandbox before stat-ing it, per spec 4.G.2. A sandbox rejection
// (escape, traversal, or a root that does not contain arg) is treated
// the same as a nonexistent path, never as an error.
func (r *SetupCommandsRule) statSandboxed(arg string) (os.FileInfo, error) {
	p, err := pathsandbox.Contain(r.sessionRoot, arg, pathsandbox.Options{})
	if err != nil {
		return nil, os.ErrNotExist
	}
	return os.Stat(p)
}

// evaluate resolves a condition string against the session root.
// Non-existence is never an error: it makes the *_exists conditions
// false and the *_missing conditions true.
func (r *SetupCommandsRule) evaluate(cond string) (bool, error) {
	if cond == "always" || cond == "" {
		return true, nil
	}
	idx := strings.Index(cond, ":")
	if idx < 0 {
		return false, fmt.Errorf("malformed condition %q", cond)
	}
	kind, arg := cond[:idx+1], cond[idx+1:]

	switch kind {
	case "file_exists:":
		info, err := r.statSandboxed(arg)
		return err == nil && !info.IsDir(), nil
	case "file_missing:":
		info, err := r.statSandboxed(arg)
		return err != nil || info.IsDir(), nil
	case "directory_exists:":
		info, err := r.statSandboxed(arg)
		return err == nil && info.IsDir(), nil
	case "directory_missing:":
		info, err := r.statSandboxed(arg)
		return err != nil || !info.IsDir(), nil
	case "command_available:":
		_, err := exec.LookPath(arg)
		return err == nil, nil
	case "env_var_set:":
		_, ok := os.LookupEnv(arg)
		return ok, nil
	default:
		return false, fmt.Errorf("unrecognized condition kind %q", kind)
	}
}
