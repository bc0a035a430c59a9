package config

import "fmt"

// Validate checks runtime node config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Network != Mainnet && cfg.Network != Testnet {
		return fmt.Errorf("network must be %q or %q", Mainnet, Testnet)
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("datadir must not be empty")
	}

	if cfg.Chainstate.MaxOrphans < 0 {
		return fmt.Errorf("chainstate.max_orphans must not be negative")
	}

	switch cfg.Storage.Backend {
	case "badger", "memory":
	case "":
		cfg.Storage.Backend = "badger"
	default:
		return fmt.Errorf("storage.backend must be %q or %q", "badger", "memory")
	}
	if cfg.Storage.CacheSizeMB < 0 {
		return fmt.Errorf("storage.cache_size_mb must not be negative")
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}

	return nil
}
