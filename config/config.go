package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"vestchain/crypto"
)

// Config is the daemon configuration. Files ending in .yaml or .yml are read
// as YAML, everything else as TOML.
type Config struct {
	ListenAddress     string          `toml:"ListenAddress" yaml:"listen"`
	DataDir           string          `toml:"DataDir" yaml:"dataDir"`
	StorageBackend    string          `toml:"StorageBackend" yaml:"storageBackend"`
	Environment       string          `toml:"Environment" yaml:"environment"`
	OwnerKeystorePath string          `toml:"OwnerKeystorePath" yaml:"ownerKeystorePath"`
	Owner             string          `toml:"Owner" yaml:"owner"`
	Pool              PoolConfig      `toml:"Pool" yaml:"pool"`
	Timelock          TimelockConfig  `toml:"Timelock" yaml:"timelock"`
	Auth              AuthConfig      `toml:"Auth" yaml:"auth"`
	RateLimit         RateLimitConfig `toml:"RateLimit" yaml:"rateLimit"`
	Indexer           IndexerConfig   `toml:"Indexer" yaml:"indexer"`
	Logging           LoggingConfig   `toml:"Logging" yaml:"logging"`
	Telemetry         TelemetryConfig `toml:"Telemetry" yaml:"telemetry"`
}

// TimelockConfig switches the engine into delayed authorization mode.
type TimelockConfig struct {
	Enabled   bool     `toml:"Enabled" yaml:"enabled"`
	MinDelay  Duration `toml:"MinDelay" yaml:"minDelay"`
	Proposers []string `toml:"Proposers" yaml:"proposers"`
	Executors []string `toml:"Executors" yaml:"executors"`
}

type AuthConfig struct {
	Enabled       bool     `toml:"Enabled" yaml:"enabled"`
	HMACSecret    string   `toml:"HMACSecret" yaml:"hmacSecret"`
	Issuer        string   `toml:"Issuer" yaml:"issuer"`
	Audience      string   `toml:"Audience" yaml:"audience"`
	ClockSkew     Duration `toml:"ClockSkew" yaml:"clockSkew"`
	OptionalPaths []string `toml:"OptionalPaths" yaml:"optionalPaths"`
}

type RateLimitConfig struct {
	RatePerSecond float64 `toml:"RatePerSecond" yaml:"ratePerSecond"`
	Burst         int     `toml:"Burst" yaml:"burst"`
}

type IndexerConfig struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string `toml:"Driver" yaml:"driver"`
	DSN    string `toml:"DSN" yaml:"dsn"`
}

type LoggingConfig struct {
	File       string `toml:"File" yaml:"file"`
	MaxSizeMB  int    `toml:"MaxSizeMB" yaml:"maxSizeMB"`
	MaxBackups int    `toml:"MaxBackups" yaml:"maxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays" yaml:"maxAgeDays"`
}

type TelemetryConfig struct {
	Endpoint string `toml:"Endpoint" yaml:"endpoint"`
	Insecure bool   `toml:"Insecure" yaml:"insecure"`
	Metrics  bool   `toml:"Metrics" yaml:"metrics"`
	Traces   bool   `toml:"Traces" yaml:"traces"`
}

// Load loads the configuration from the given path, creating a default file
// together with a fresh owner keystore when it does not exist yet.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if isYAML(path) {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s has unknown field %s", path, undecoded[0])
		}
	}

	cfg.applyDefaults()
	if strings.TrimSpace(cfg.Owner) == "" {
		if err := ensureKeystore(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./vest-data"
	}
	if strings.TrimSpace(cfg.StorageBackend) == "" {
		cfg.StorageBackend = "leveldb"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "dev"
	}
	if cfg.Timelock.MinDelay.Duration <= 0 {
		cfg.Timelock.MinDelay = Duration{DefaultTimelockDelay}
	}
	if cfg.Auth.ClockSkew.Duration <= 0 {
		cfg.Auth.ClockSkew = Duration{2 * time.Minute}
	}
	if strings.TrimSpace(cfg.Auth.Issuer) == "" {
		cfg.Auth.Issuer = "vestd"
	}
	if strings.TrimSpace(cfg.Auth.Audience) == "" {
		cfg.Auth.Audience = "vestchain"
	}
	if cfg.RateLimit.RatePerSecond <= 0 {
		cfg.RateLimit.RatePerSecond = 20
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 40
	}
	if strings.TrimSpace(cfg.Indexer.Driver) == "" {
		cfg.Indexer.Driver = "sqlite"
	}
	if strings.TrimSpace(cfg.Indexer.DSN) == "" && strings.EqualFold(cfg.Indexer.Driver, "sqlite") {
		cfg.Indexer.DSN = filepath.Join(cfg.DataDir, "events.db")
	}
	cfg.Pool.applyPreset()
}

// OwnerAddress resolves the owner either from the explicit bech32 setting or
// from the unencrypted owner keystore.
func (cfg *Config) OwnerAddress() ([20]byte, error) {
	if owner := strings.TrimSpace(cfg.Owner); owner != "" {
		return crypto.ParseAddress(owner)
	}
	if strings.TrimSpace(cfg.OwnerKeystorePath) == "" {
		return [20]byte{}, fmt.Errorf("config: owner or owner keystore required")
	}
	key, err := crypto.LoadFromKeystore(cfg.OwnerKeystorePath, "")
	if err != nil {
		return [20]byte{}, fmt.Errorf("config: load owner keystore: %w", err)
	}
	return key.PubKey().Address().Array(), nil
}

// TimelockProposers parses the configured extra proposers.
func (cfg *Config) TimelockProposers() ([][20]byte, error) {
	return parseAddresses("timelock.proposers", cfg.Timelock.Proposers)
}

// TimelockExecutors parses the configured executors.
func (cfg *Config) TimelockExecutors() ([][20]byte, error) {
	return parseAddresses("timelock.executors", cfg.Timelock.Executors)
}

func parseAddresses(field string, raw []string) ([][20]byte, error) {
	out := make([][20]byte, 0, len(raw))
	for i, value := range raw {
		addr, err := crypto.ParseAddress(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", field, i, err)
		}
		out = append(out, addr)
	}
	return out, nil
}

// Validate checks every section of the configuration.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.StorageBackend)) {
	case "leveldb", "bolt", "memory":
	default:
		return fmt.Errorf("storageBackend %q not supported", cfg.StorageBackend)
	}
	if owner := strings.TrimSpace(cfg.Owner); owner != "" {
		if _, err := crypto.ParseAddress(owner); err != nil {
			return fmt.Errorf("owner: %w", err)
		}
	}
	if err := cfg.Pool.Validate(); err != nil {
		return fmt.Errorf("pool: %w", err)
	}
	if _, err := cfg.TimelockProposers(); err != nil {
		return err
	}
	executors, err := cfg.TimelockExecutors()
	if err != nil {
		return err
	}
	if cfg.Timelock.Enabled && len(executors) == 0 {
		return fmt.Errorf("timelock.executors must list at least one address when the timelock is enabled")
	}
	if cfg.Auth.Enabled && strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		return fmt.Errorf("auth.hmacSecret required when auth is enabled")
	}
	for i, path := range cfg.Auth.OptionalPaths {
		if !strings.HasPrefix(strings.TrimSpace(path), "/") {
			return fmt.Errorf("auth.optionalPaths[%d] must start with '/'", i)
		}
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Indexer.Driver)) {
	case "sqlite":
	case "postgres":
		if strings.TrimSpace(cfg.Indexer.DSN) == "" {
			return fmt.Errorf("indexer.dsn required for postgres")
		}
	default:
		return fmt.Errorf("indexer.driver %q not supported", cfg.Indexer.Driver)
	}
	return nil
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.OwnerKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystoreWithStrength(keystorePath, key, "", crypto.LightKeystore); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.OwnerKeystorePath != keystorePath {
		cfg.OwnerKeystorePath = keystorePath
		return persist(configPath, cfg)
	}
	return nil
}

// createDefault creates and saves a default configuration file running the
// vesting preset.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystoreWithStrength(keystorePath, key, "", crypto.LightKeystore); err != nil {
		return nil, err
	}

	cfg := &Config{
		ListenAddress:     ":8080",
		DataDir:           "./vest-data",
		StorageBackend:    "leveldb",
		Environment:       "dev",
		OwnerKeystorePath: keystorePath,
		Pool: PoolConfig{
			Preset:   PresetVesting,
			Token:    "VEST",
			Treasury: key.PubKey().Address().String(),
		},
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		defer enc.Close()
		return enc.Encode(cfg)
	}
	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "owner.keystore")
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}
