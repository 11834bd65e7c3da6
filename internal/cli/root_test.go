package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "rotasave", cmd.Use)
	assert.Contains(t, cmd.Long, "rotation engine")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	paths := [][]string{
		{"simulate"},
		{"group", "create"},
		{"group", "join"},
		{"group", "contribute"},
		{"group", "advance"},
		{"group", "cancel"},
		{"group", "show"},
	}

	for _, path := range paths {
		t.Run(path[len(path)-1], func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err)
			require.NotNil(t, subCmd)
			assert.Equal(t, path[len(path)-1], subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	for flag, def := range map[string]string{
		"store":       "sqlite",
		"sqlite-path": "rotasave.db",
		"dsn":         "",
		"format":      "text",
		"policy":      "partial",
	} {
		f := cmd.PersistentFlags().Lookup(flag)
		require.NotNil(t, f, flag)
		assert.Equal(t, def, f.DefValue, flag)
	}
}

func TestInvalidFormatRejected(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "yaml", "simulate"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid format")
}

func TestUnknownPolicyRejected(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--policy", "lenient", "simulate"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(assert.AnError))
	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "open", assert.AnError)))
}
