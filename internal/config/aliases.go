package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AliasConfig maps a public model name to a backend bot ID.
type AliasConfig struct {
	Name  string `yaml:"name"`
	BotID string `yaml:"bot_id"`
}

// AliasesFile is the aliases_file structure.
type AliasesFile struct {
	Aliases []AliasConfig `yaml:"aliases"`
}

// LoadAliasesFile reads an aliases file. A missing file yields an empty table.
func LoadAliasesFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to read aliases file: %w", err)
	}

	var file AliasesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse aliases file: %w", err)
	}

	out := make(map[string]string, len(file.Aliases))
	for i, a := range file.Aliases {
		if a.Name == "" || a.BotID == "" {
			return nil, fmt.Errorf("aliases file entry %d: name and bot_id are required", i)
		}
		out[a.Name] = a.BotID
	}
	return out, nil
}

// SaveAliasesFile writes aliases to path in the aliases_file format.
func SaveAliasesFile(path string, aliases []AliasConfig) error {
	data, err := yaml.Marshal(AliasesFile{Aliases: aliases})
	if err != nil {
		return fmt.Errorf("failed to marshal aliases: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write aliases file: %w", err)
	}

	return nil
}
