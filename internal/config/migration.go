package config

import "fmt"

// MigrationResult describes what MigrateConfig changed.
type MigrationResult struct {
	FromVersion int
	ToVersion   int
	Changes     []string
}

// MigrateConfig upgrades cfg in place to Version. A version of 0 means the
// file did not set one and is treated as version 1.
func MigrateConfig(cfg *Config) (*MigrationResult, error) {
	if cfg.Version == 0 {
		cfg.Version = 1
	}
	result := &MigrationResult{FromVersion: cfg.Version, ToVersion: Version}

	for cfg.Version < Version {
		var changes []string
		switch cfg.Version {
		case 1:
			changes = migrateV1ToV2(cfg)
		default:
			return result, fmt.Errorf("unknown config version %d", cfg.Version)
		}
		result.Changes = append(result.Changes, changes...)
		cfg.Version++
	}
	return result, nil
}

// migrateV1ToV2 renames keyboard.tint_color to keyboard.accent_color.
func migrateV1ToV2(cfg *Config) []string {
	if cfg.Keyboard.TintColor == "" {
		return nil
	}
	cfg.Keyboard.AccentColor = cfg.Keyboard.TintColor
	cfg.Keyboard.TintColor = ""
	return []string{"renamed keyboard.tint_color to keyboard.accent_color"}
}
