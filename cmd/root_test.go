package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"work", "heal", "search", "verify", "enqueue", "migrate", "status"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "hydra", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestCommands_DeclareValidationMode(t *testing.T) {
	for _, c := range rootCmd.Commands() {
		switch c.Name() {
		case "help", "completion":
			continue
		}
		mode, ok := c.Annotations[modeAnnotation]
		require.True(t, ok, "command %q has no validation mode", c.Name())
		assert.Equal(t, c.Name(), mode)
	}
}

func TestWorkCommand_Flags(t *testing.T) {
	port := workCmd.Flags().Lookup("port")
	require.NotNil(t, port)
	assert.Equal(t, "0", port.DefValue)

	status := workCmd.Flags().Lookup("status")
	require.NotNil(t, status)
	assert.Equal(t, "false", status.DefValue)

	require.NotNil(t, workCmd.Flags().Lookup("no-heal"))
}

func TestSearchCommand_Flags(t *testing.T) {
	for _, name := range []string{"platform", "kind", "limit"} {
		assert.NotNil(t, searchCmd.Flags().Lookup(name), "search should have --%s", name)
	}
	assert.Error(t, searchCmd.Args(searchCmd, nil))
	assert.NoError(t, searchCmd.Args(searchCmd, []string{"plumbers in austin"}))
}

func TestEnqueueCommand_Flags(t *testing.T) {
	flag := enqueueCmd.Flags().Lookup("compliance")
	require.NotNil(t, flag)
	assert.Equal(t, "standard", flag.DefValue)
	for _, name := range []string{"org", "category", "platform"} {
		assert.NotNil(t, enqueueCmd.Flags().Lookup(name), "enqueue should have --%s", name)
	}
}
