package rules

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sxngo/sxngo/internal/cmdallow"
	"github.com/sxngo/sxngo/internal/cmdexec"
)

func TestCopyFilesRuleApplyAndRollback(t *testing.T) {
	projectRoot := t.TempDir()
	sessionRoot := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(projectRoot, "config"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(projectRoot, "config", "master.key"), []byte("abcd"), 0o644))

	rule := NewCopyFilesRule("copy", nil, []CopyFileEntry{
		{Source: "config/master.key", Strategy: "copy", Required: true},
	}, projectRoot, sessionRoot, nil)

	ctx := context.Background()
	require.NoError(t, rule.Validate(ctx))
	require.Equal(t, Validated, rule.State())
	require.NoError(t, rule.Apply(ctx))
	require.Equal(t, Applied, rule.State())

	info, err := os.Stat(filepath.Join(sessionRoot, "config/master.key"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, rule.Rollback(ctx))
	require.Equal(t, RolledBack, rule.State())
	_, err = os.Stat(filepath.Join(sessionRoot, "config/master.key"))
	require.True(t, os.IsNotExist(err))
}

func TestCopyFilesRuleMissingRequiredSourceFailsValidation(t *testing.T) {
	projectRoot := t.TempDir()
	sessionRoot := t.TempDir()

	rule := NewCopyFilesRule("copy", nil, []CopyFileEntry{
		{Source: "nope.txt", Strategy: "copy", Required: true},
	}, projectRoot, sessionRoot, nil)

	err := rule.Validate(context.Background())
	require.Error(t, err)
	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, KindMissingRequiredSource, rerr.Kind)
	require.Equal(t, Failed, rule.State())
}

func TestSetupCommandsRuleSkipsFalseCondition(t *testing.T) {
	sessionRoot := t.TempDir()
	executor := cmdexec.New(sessionRoot, cmdallow.Default())

	rule := NewSetupCommandsRule("setup", nil, []CommandEntry{
		{Command: []string{"echo", "should-not-run"}, Condition: "file_exists:nope.txt"},
	}, false, sessionRoot, executor, cmdallow.Default())

	ctx := context.Background()
	require.NoError(t, rule.Validate(ctx))
	require.NoError(t, rule.Apply(ctx))
	require.Empty(t, rule.Changes())
}

func TestSetupCommandsRuleRunsAndRecords(t *testing.T) {
	sessionRoot := t.TempDir()
	executor := cmdexec.New(sessionRoot, cmdallow.Default())

	rule := NewSetupCommandsRule("setup", nil, []CommandEntry{
		{Command: []string{"echo", "ok"}},
	}, false, sessionRoot, executor, cmdallow.Default())

	ctx := context.Background()
	require.NoError(t, rule.Validate(ctx))
	require.NoError(t, rule.Apply(ctx))
	require.Len(t, rule.Changes(), 1)
	require.Equal(t, CommandExecuted, rule.Changes()[0].Kind)
}

func TestSetupCommandsRuleRejectsDisallowedCommand(t *testing.T) {
	sessionRoot := t.TempDir()
	executor := cmdexec.New(sessionRoot, cmdallow.Default())

	rule := NewSetupCommandsRule("bad", nil, []CommandEntry{
		{Command: []string{"rm", "-rf", "/"}},
	}, false, sessionRoot, executor, cmdallow.Default())

	ctx := context.Background()
	err := rule.Validate(ctx)
	require.Error(t, err)
	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, KindCommandNotAllowed, rerr.Kind)
}

func TestTemplateRuleRendersAndOverwritesWithBackup(t *testing.T) {
	projectRoot := t.TempDir()
	sessionRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(projectRoot, "session_info.md.tmpl"), []byte("Session: {{ session_name }}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sessionRoot, "SESSION_INFO.md"), []byte("old"), 0o644))

	rule := NewTemplateRule("info", nil, []TemplateEntry{
		{Source: "session_info.md.tmpl", Destination: "SESSION_INFO.md", Overwrite: true, Required: true},
	}, projectRoot, sessionRoot, "my-session", "my-project")

	ctx := context.Background()
	require.NoError(t, rule.Validate(ctx))
	require.NoError(t, rule.Apply(ctx))

	data, err := os.ReadFile(filepath.Join(sessionRoot, "SESSION_INFO.md"))
	require.NoError(t, err)
	require.Equal(t, "Session: my-session", string(data))

	backupPath, ok := rule.Changes()[0].Metadata["backup_path"].(string)
	require.True(t, ok)
	backupData, err := os.ReadFile(backupPath)
	require.NoError(t, err)
	require.Equal(t, "old", string(backupData))

	require.NoError(t, rule.Rollback(ctx))
	restored, err := os.ReadFile(filepath.Join(sessionRoot, "SESSION_INFO.md"))
	require.NoError(t, err)
	require.Equal(t, "old", string(restored))
}

func TestTemplateRuleRejectsDestinationTraversal(t *testing.T) {
	projectRoot := t.TempDir()
	sessionRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(projectRoot, "t.tmpl"), []byte("x"), 0o644))

	rule := NewTemplateRule("info", nil, []TemplateEntry{
		{Source: "t.tmpl", Destination: "../escape.md", Required: true},
	}, projectRoot, sessionRoot, "s", "p")

	err := rule.Validate(context.Background())
	require.Error(t, err)
}
