package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// SyncConfig overrides the protocol defaults governing update admission. A
// zero value means "use the default".
type SyncConfig struct {
	CooldownSeconds           uint64 `toml:"CooldownSeconds"`
	MaxDriftSeconds           uint64 `toml:"MaxDriftSeconds"`
	MinHalvingIntervalSeconds uint64 `toml:"MinHalvingIntervalSeconds"`
	MaxEpochSkip              uint64 `toml:"MaxEpochSkip"`
	EmergencyEpochBound       uint64 `toml:"EmergencyEpochBound"`
}

// RolesConfig lists the hex addresses granted each role at startup.
type RolesConfig struct {
	Admin     []string `toml:"Admin"`
	Sync      []string `toml:"Sync"`
	Emergency []string `toml:"Emergency"`
	Oracle    []string `toml:"Oracle"`
}

type Config struct {
	RPCAddress      string      `toml:"RPCAddress"`
	DataDir         string      `toml:"DataDir"`
	NetworkName     string      `toml:"NetworkName"`
	ChainID         uint16      `toml:"ChainID"`
	GovernanceChain bool        `toml:"GovernanceChain"`
	Sync            SyncConfig  `toml:"Sync"`
	Roles           RolesConfig `toml:"Roles"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = "127.0.0.1:8645"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./halo-data"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "halo-local"
	}
}

// Validate ensures the configuration is self-consistent.
func (c *Config) Validate() error {
	if c.ChainID == 0 {
		return fmt.Errorf("config: ChainID must be greater than zero")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir must not be empty")
	}
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("config: RPCAddress must not be empty")
	}
	for _, group := range [][]string{c.Roles.Admin, c.Roles.Sync, c.Roles.Emergency, c.Roles.Oracle} {
		for _, addr := range group {
			if err := checkAddress(addr); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkAddress(addr string) error {
	trimmed := strings.TrimPrefix(strings.TrimSpace(addr), "0x")
	if len(trimmed) != 40 {
		return fmt.Errorf("config: role address %q must be 20 bytes of hex", addr)
	}
	for _, r := range trimmed {
		isHex := (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
		if !isHex {
			return fmt.Errorf("config: role address %q must be 20 bytes of hex", addr)
		}
	}
	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:  "127.0.0.1:8645",
		DataDir:     "./halo-data",
		NetworkName: "halo-local",
		ChainID:     1,
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return toml.NewEncoder(file).Encode(cfg)
}
