package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAliasesFile_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aliases.yaml")

	require.NoError(t, SaveAliasesFile(path, []AliasConfig{
		{Name: "gpt-4", BotID: "claude-sonnet"},
		{Name: "gpt-3.5-turbo", BotID: "claude-haiku"},
	}))

	aliases, err := LoadAliasesFile(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"gpt-4":         "claude-sonnet",
		"gpt-3.5-turbo": "claude-haiku",
	}, aliases)
}

func TestLoadAliasesFile_Missing(t *testing.T) {
	aliases, err := LoadAliasesFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Empty(t, aliases)
}

func TestLoadAliasesFile_InvalidEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aliases.yaml")
	require.NoError(t, os.WriteFile(path, []byte("aliases:\n  - name: gpt-4\n"), 0644))

	_, err := LoadAliasesFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name and bot_id are required")
}

func TestLoad_AliasesFileMergesUnderInline(t *testing.T) {
	aliasesPath := filepath.Join(t.TempDir(), "aliases.yaml")
	require.NoError(t, SaveAliasesFile(aliasesPath, []AliasConfig{
		{Name: "gpt-4", BotID: "from-file"},
		{Name: "gpt-4o", BotID: "claude-opus"},
	}))

	cfg, err := Load(writeConfig(t, `
credentials:
  tokens: ["tok-1"]
models:
  aliases_file: "`+aliasesPath+`"
  aliases:
    gpt-4: inline
`))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"gpt-4": "inline", "gpt-4o": "claude-opus"}, cfg.Models.Aliases)
}
