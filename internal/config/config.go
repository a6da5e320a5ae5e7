package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds the patchpald configuration
type Config struct {
	ListenAddr string `toml:"listen_addr"`
	DBPath     string `toml:"db"`

	// Heartbeat interval in seconds. A session that stays silent for
	// three intervals is treated as disconnected.
	HeartbeatIntervalSecs int `toml:"heartbeat_interval_secs"`

	// Buffered outbound notifications per session
	SessionBuffer int `toml:"session_buffer"`

	// Maximum accepted frame size for a submission
	MaxPatchBytes int64 `toml:"max_patch_bytes"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:            "127.0.0.1:8443",
		DBPath:                filepath.Join(DataDir(), "patchpal.db"),
		HeartbeatIntervalSecs: 10,
		SessionBuffer:         64,
		MaxPatchBytes:         1 << 20,
	}
}

// DataDir returns the patchpal data directory.
// Uses PATCHPAL_DATA_DIR env var if set, otherwise ~/.patchpal
func DataDir() string {
	if dir := os.Getenv("PATCHPAL_DATA_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".patchpal")
}

// GlobalConfigPath returns the path to the global config file
func GlobalConfigPath() string {
	return filepath.Join(DataDir(), "config.toml")
}

// Load loads the configuration from the default path
func Load() (*Config, error) {
	return LoadFrom(GlobalConfigPath())
}

// LoadFrom loads the configuration from a specific path. A missing file
// is not an error: defaults are returned.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.HeartbeatIntervalSecs <= 0 {
		return fmt.Errorf("heartbeat_interval_secs must be positive, got %d", c.HeartbeatIntervalSecs)
	}
	if c.SessionBuffer <= 0 {
		return fmt.Errorf("session_buffer must be positive, got %d", c.SessionBuffer)
	}
	if c.MaxPatchBytes <= 0 {
		return fmt.Errorf("max_patch_bytes must be positive, got %d", c.MaxPatchBytes)
	}
	return nil
}

// Save writes the configuration to the global config path
func Save(cfg *Config) error {
	path := GlobalConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
