package config

import "path/filepath"

// DefaultMainnet returns the default configuration for mainnet.
func DefaultMainnet() *Config {
	return Default(Mainnet)
}

// DefaultTestnet returns the default configuration for testnet.
func DefaultTestnet() *Config {
	return Default(Testnet)
}

// Default returns the default configuration for the given network.
func Default(network NetworkType) *Config {
	dataDir := DefaultDataDir()

	return &Config{
		Network: network,
		DataDir: dataDir,

		Chainstate: ChainstateConfig{
			MaxOrphans:     100,
			TxIndexEnabled: false,
		},

		Storage: StorageConfig{
			Backend:     "badger",
			CacheSizeMB: 64,
		},

		Log: LogConfig{
			Level: "info",
			File:  filepath.Join(dataDir, "logs", "chainstated.log"),
			JSON:  false,
		},
	}
}
