package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sxngo/sxngo/internal/cmdallow"
	"github.com/sxngo/sxngo/internal/rules"
)

func TestApplyHappyPathWithDependencyAndSensitivePermissions(t *testing.T) {
	projectRoot := t.TempDir()
	sessionRoot := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(projectRoot, "config"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(projectRoot, "config", "master.key"), []byte("abcd"), 0o644))

	eng := New(projectRoot, sessionRoot, "sess", "proj", nil, cmdallow.Default())

	specs := []RuleSpec{
		{
			Name: "copy",
			Type: "copy_files",
			Config: map[string]interface{}{
				"files": []interface{}{
					map[string]interface{}{"source": "config/master.key", "strategy": "copy"},
				},
			},
		},
		{
			Name:         "inst",
			Type:         "setup_commands",
			Dependencies: []string{"copy"},
			Config: map[string]interface{}{
				"commands": []interface{}{
					map[string]interface{}{"command": []interface{}{"echo", "ready"}, "condition": "file_exists:config/master.key"},
				},
			},
		},
	}

	result, err := eng.Apply(context.Background(), specs, DefaultOptions())
	require.NoError(t, err)
	require.True(t, result.Success())
	require.Len(t, result.Applied, 2)
	require.Empty(t, result.Failed)

	require.Contains(t, result.PhaseDurations, "phase-0")
	require.Contains(t, result.PhaseDurations, "phase-1")
	require.Len(t, result.PhaseDurations, 2)

	info, err := os.Stat(filepath.Join(sessionRoot, "config", "master.key"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestApplyCircularDependencyLeavesFilesystemUnchanged(t *testing.T) {
	projectRoot := t.TempDir()
	sessionRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(projectRoot, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(projectRoot, "b.txt"), []byte("b"), 0o644))

	eng := New(projectRoot, sessionRoot, "sess", "proj", nil, cmdallow.Default())

	specs := []RuleSpec{
		{
			Name:         "a",
			Type:         "copy_files",
			Dependencies: []string{"b"},
			Config: map[string]interface{}{
				"files": []interface{}{map[string]interface{}{"source": "a.txt", "strategy": "copy"}},
			},
		},
		{
			Name:         "b",
			Type:         "copy_files",
			Dependencies: []string{"a"},
			Config: map[string]interface{}{
				"files": []interface{}{map[string]interface{}{"source": "b.txt", "strategy": "copy"}},
			},
		},
	}

	result, err := eng.Apply(context.Background(), specs, DefaultOptions())
	require.Nil(t, result)
	require.Error(t, err)

	var eerr *Error
	require.ErrorAs(t, err, &eerr)
	require.Equal(t, KindCircularDependency, eerr.Kind)
	require.Contains(t, err.Error(), "rule")

	entries, err := os.ReadDir(sessionRoot)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestApplyCommandNotAllowedFailsValidationBeforeAnyExecution(t *testing.T) {
	projectRoot := t.TempDir()
	sessionRoot := t.TempDir()

	eng := New(projectRoot, sessionRoot, "sess", "proj", nil, cmdallow.Default())

	specs := []RuleSpec{
		{
			Name: "bad",
			Type: "setup_commands",
			Config: map[string]interface{}{
				"commands": []interface{}{
					map[string]interface{}{"command": []interface{}{"rm", "-rf", "/"}},
				},
			},
		},
	}

	result, err := eng.Apply(context.Background(), specs, DefaultOptions())
	require.Nil(t, result)
	require.Error(t, err)

	var rerr *rules.Error
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, rules.KindCommandNotAllowed, rerr.Kind)

	entries, err := os.ReadDir(sessionRoot)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestApplyCommandNotAllowedValidateOnlyReturnsSkippedWithoutError(t *testing.T) {
	projectRoot := t.TempDir()
	sessionRoot := t.TempDir()

	eng := New(projectRoot, sessionRoot, "sess", "proj", nil, cmdallow.Default())

	specs := []RuleSpec{
		{
			Name: "bad",
			Type: "setup_commands",
			Config: map[string]interface{}{
				"commands": []interface{}{
					map[string]interface{}{"command": []interface{}{"rm", "-rf", "/"}},
				},
			},
		},
	}

	opts := DefaultOptions()
	opts.ValidateOnly = true
	result, err := eng.Apply(context.Background(), specs, opts)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Empty(t, result.Applied)
	require.Len(t, result.Skipped, 1)
	require.Equal(t, "bad", result.Skipped[0].Name)
}

func TestApplyParallelPhasePartialFailureThenExplicitRollback(t *testing.T) {
	projectRoot := t.TempDir()
	sessionRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(projectRoot, "x.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(projectRoot, "y.txt"), []byte("y"), 0o644))

	allow := cmdallow.New("false")
	eng := New(projectRoot, sessionRoot, "sess", "proj", nil, allow)

	specs := []RuleSpec{
		{
			Name: "a",
			Type: "copy_files",
			Config: map[string]interface{}{
				"files": []interface{}{map[string]interface{}{"source": "x.txt", "strategy": "copy"}},
			},
		},
		{
			Name: "b",
			Type: "setup_commands",
			Config: map[string]interface{}{
				"commands": []interface{}{map[string]interface{}{"command": []interface{}{"false"}}},
			},
		},
		{
			Name: "c",
			Type: "copy_files",
			Config: map[string]interface{}{
				"files": []interface{}{map[string]interface{}{"source": "y.txt", "strategy": "copy"}},
			},
		},
	}

	opts := DefaultOptions()
	result, err := eng.Apply(context.Background(), specs, opts)
	require.NoError(t, err)
	require.False(t, result.Success())
	require.Len(t, result.Failed, 1)
	require.Equal(t, "b", result.Failed[0].Rule.Name())
	require.Len(t, result.Applied, 2)

	applied := map[string]bool{}
	for _, r := range result.Applied {
		applied[r.Name()] = true
	}
	require.True(t, applied["a"])
	require.True(t, applied["c"])

	_, err = os.Stat(filepath.Join(sessionRoot, "x.txt"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(sessionRoot, "y.txt"))
	require.NoError(t, err)

	RollbackAll(context.Background(), result)
	require.Empty(t, result.Applied)

	_, err = os.Stat(filepath.Join(sessionRoot, "x.txt"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(sessionRoot, "y.txt"))
	require.True(t, os.IsNotExist(err))
}

func TestApplyTemplateOverwriteWithBackupThroughEngine(t *testing.T) {
	projectRoot := t.TempDir()
	sessionRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(projectRoot, "session_info.md.tmpl"), []byte("Session: {{ session_name }} / Project: {{ project_name }}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sessionRoot, "SESSION_INFO.md"), []byte("old"), 0o644))

	eng := New(projectRoot, sessionRoot, "my-session", "my-project", nil, cmdallow.Default())

	specs := []RuleSpec{
		{
			Name: "info",
			Type: "template",
			Config: map[string]interface{}{
				"templates": []interface{}{
					map[string]interface{}{
						"source":      "session_info.md.tmpl",
						"destination": "SESSION_INFO.md",
						"overwrite":   true,
					},
				},
			},
		},
	}

	result, err := eng.Apply(context.Background(), specs, DefaultOptions())
	require.NoError(t, err)
	require.True(t, result.Success())
	require.Len(t, result.Applied, 1)

	data, err := os.ReadFile(filepath.Join(sessionRoot, "SESSION_INFO.md"))
	require.NoError(t, err)
	require.Equal(t, "Session: my-session / Project: my-project", string(data))

	backupPath, ok := result.Applied[0].Changes()[0].Metadata["backup_path"].(string)
	require.True(t, ok)
	backupData, err := os.ReadFile(backupPath)
	require.NoError(t, err)
	require.Equal(t, "old", string(backupData))
}

func TestApplyEmptySpecsIsNoop(t *testing.T) {
	eng := New(t.TempDir(), t.TempDir(), "s", "p", nil, cmdallow.Default())
	result, err := eng.Apply(context.Background(), nil, DefaultOptions())
	require.NoError(t, err)
	require.Empty(t, result.Applied)
	require.Empty(t, result.Failed)
	require.True(t, result.Success())
}

func TestApplyMissingDependencyIsFatal(t *testing.T) {
	projectRoot := t.TempDir()
	sessionRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(projectRoot, "a.txt"), []byte("a"), 0o644))

	eng := New(projectRoot, sessionRoot, "s", "p", nil, cmdallow.Default())
	specs := []RuleSpec{
		{
			Name:         "a",
			Type:         "copy_files",
			Dependencies: []string{"ghost"},
			Config: map[string]interface{}{
				"files": []interface{}{map[string]interface{}{"source": "a.txt", "strategy": "copy"}},
			},
		},
	}

	result, err := eng.Apply(context.Background(), specs, DefaultOptions())
	require.Nil(t, result)
	var eerr *Error
	require.ErrorAs(t, err, &eerr)
	require.Equal(t, KindMissingDependency, eerr.Kind)
}
