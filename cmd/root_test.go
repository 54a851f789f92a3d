package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{"run", "batch", "serve", "import", "runs", "dlq"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "intel-engine", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRunCommand_Flags(t *testing.T) {
	flag := runCmd.Flags().Lookup("subject")
	require.NotNil(t, flag, "run command should have --subject flag")

	assert.NotNil(t, runCmd.Flags().Lookup("category"))
	assert.NotNil(t, runCmd.Flags().Lookup("query"))
	assert.NotNil(t, runCmd.Flags().Lookup("temperatures"))
}

func TestBatchCommand_Flags(t *testing.T) {
	flag := batchCmd.Flags().Lookup("limit")
	require.NotNil(t, flag, "batch command should have --limit flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestImportCommand_Flags(t *testing.T) {
	require.NotNil(t, importCmd.Flags().Lookup("file"))
	assert.NotNil(t, importCmd.Flags().Lookup("sheet"))
	assert.NotNil(t, importCmd.Flags().Lookup("name-column"))
	assert.NotNil(t, importCmd.Flags().Lookup("category-column"))
}
