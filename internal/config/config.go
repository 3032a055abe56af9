package config

import (
	"fmt"
	"os"
	"path/filepath"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Log       LogConfig
	API       APIConfig
	Anthropic AnthropicConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir      string
	RawDir       string // defaults to <DataDir>/raw
	ProcessedDir string // defaults to <DataDir>/processed
	IndexDir     string // defaults to <DataDir>/index
}

type LogConfig struct {
	Level string
}

type APIConfig struct {
	// Token guards the management HTTP API when set. Empty disables auth
	// (the API binds to localhost only).
	Token string
}

type AnthropicConfig struct {
	// APIKey is reserved for the note cleanup pipeline. Nothing reads it
	// yet, so it is optional.
	APIKey string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/inkwell/config.json, then applies INKWELL_* environment
// overrides, then resolves the data directories to absolute paths.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := resolveDirs(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// resolveDirs derives unset directories from DataDir and makes all four
// absolute, so core packages never see relative paths.
func resolveDirs(cfg *Config) error {
	var err error
	if cfg.Storage.DataDir, err = filepath.Abs(cfg.Storage.DataDir); err != nil {
		return fmt.Errorf("resolving data dir: %w", err)
	}

	if cfg.Storage.RawDir == "" {
		cfg.Storage.RawDir = filepath.Join(cfg.Storage.DataDir, "raw")
	}
	if cfg.Storage.ProcessedDir == "" {
		cfg.Storage.ProcessedDir = filepath.Join(cfg.Storage.DataDir, "processed")
	}
	if cfg.Storage.IndexDir == "" {
		cfg.Storage.IndexDir = filepath.Join(cfg.Storage.DataDir, "index")
	}

	if cfg.Storage.RawDir, err = filepath.Abs(cfg.Storage.RawDir); err != nil {
		return fmt.Errorf("resolving raw dir: %w", err)
	}
	if cfg.Storage.ProcessedDir, err = filepath.Abs(cfg.Storage.ProcessedDir); err != nil {
		return fmt.Errorf("resolving processed dir: %w", err)
	}
	if cfg.Storage.IndexDir, err = filepath.Abs(cfg.Storage.IndexDir); err != nil {
		return fmt.Errorf("resolving index dir: %w", err)
	}
	return nil
}

// EnsureDirs creates the data directories if they do not exist. Called once
// at startup; core storage code never creates the raw directory itself so a
// missing one surfaces as a configuration error.
func EnsureDirs(cfg Config) error {
	for _, dir := range []string{cfg.Storage.RawDir, cfg.Storage.ProcessedDir, cfg.Storage.IndexDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}
	return nil
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "inkwell-data"
		}
	}
	return filepath.Join(dir, "inkwell")
}
