package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "taskly", cmd.Use)
	assert.Contains(t, cmd.Long, "last-write-wins")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"add", "list", "show", "edit", "done", "rm", "move", "swap", "changes", "status", "sync", "config"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	require.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	require.NotNil(t, cmd.PersistentFlags().Lookup("db"))
}

func TestSyncCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	syncCmd, _, err := cmd.Find([]string{"sync"})
	require.NoError(t, err)

	once := syncCmd.Flags().Lookup("once")
	require.NotNil(t, once)
	assert.Equal(t, "false", once.DefValue)

	require.NotNil(t, syncCmd.Flags().Lookup("watch-config"))
}

func TestEditCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	editCmd, _, err := cmd.Find([]string{"edit"})
	require.NoError(t, err)

	title := editCmd.Flags().Lookup("title")
	require.NotNil(t, title)
	assert.Equal(t, "t", title.Shorthand)
	require.NotNil(t, editCmd.Flags().Lookup("description"))
	require.NotNil(t, editCmd.Flags().Lookup("due"))
}

func TestConfigSubcommands(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"show", "set", "clear", "path"} {
		sub, _, err := cmd.Find([]string{"config", name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}
}

func TestFormatValidation(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))

	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "invalid", "list"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
