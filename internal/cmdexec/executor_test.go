package cmdexec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExecuteEchoSucceeds(t *testing.T) {
	dir := t.TempDir()
	ex := New(dir, nil)

	res, err := ex.Execute(context.Background(), []string{"echo", "ok"}, nil, dir, 5)
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Equal(t, 0, res.ExitStatus)
	require.Contains(t, string(res.Stdout), "ok")
}

func TestExecuteNotAllowed(t *testing.T) {
	dir := t.TempDir()
	ex := New(dir, nil)

	_, err := ex.Execute(context.Background(), []string{"rm", "-rf", "/"}, nil, dir, 5)
	require.Error(t, err)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, KindNotAllowed, cerr.Kind)
}

func TestExecuteRejectsCwdEscape(t *testing.T) {
	dir := t.TempDir()
	ex := New(dir, nil)

	_, err := ex.Execute(context.Background(), []string{"echo", "hi"}, nil, "/etc", 5)
	require.Error(t, err)
}

func TestExecuteBadEnvKey(t *testing.T) {
	dir := t.TempDir()
	ex := New(dir, nil)

	_, err := ex.Execute(context.Background(), []string{"echo", "hi"}, map[string]string{"1BAD": "x"}, dir, 5)
	require.Error(t, err)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, KindBadEnvironment, cerr.Kind)
}

func TestClampTimeout(t *testing.T) {
	require.Equal(t, int64(1), clampTimeout(0).Milliseconds()/1000)
	require.Equal(t, int64(1800), clampTimeout(999999).Milliseconds()/1000)
}
