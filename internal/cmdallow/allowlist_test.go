package cmdallow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsAllowed(t *testing.T) {
	l := Default()
	require.True(t, l.IsAllowed([]string{"bundle", "install"}))
	require.True(t, l.IsAllowed([]string{"npm", "run", "build"}))
	require.False(t, l.IsAllowed([]string{"rm", "-rf", "/"}))
	require.False(t, l.IsAllowed(nil))
	require.False(t, l.IsAllowed([]string{""}))
	require.False(t, l.IsAllowed([]string{"echo", "a\x00b"}))
}

func TestNewWithExtra(t *testing.T) {
	l := New("custom-tool")
	require.True(t, l.IsAllowed([]string{"custom-tool"}))
	require.True(t, l.IsAllowed([]string{"echo"}))
}
