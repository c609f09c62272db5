package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	ethcommon "github.com/ethereum/go-ethereum/common"
)

// Config is the daemon configuration decoded from TOML.
type Config struct {
	ListenAddress      string  `toml:"ListenAddress"`
	DataDir            string  `toml:"DataDir"`
	ServiceName        string  `toml:"ServiceName"`
	Environment        string  `toml:"Environment"`
	Owner              string  `toml:"Owner"`
	OwnerFunding       string  `toml:"OwnerFunding"`
	Signer             string  `toml:"Signer"`
	AdminToken         string  `toml:"AdminToken"`
	ClaimRatePerMinute float64 `toml:"ClaimRatePerMinute"`
	ClaimBurst         int     `toml:"ClaimBurst"`
}

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file %s does not exist", path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8645"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./pointsledger-data"
	}
	if strings.TrimSpace(c.ServiceName) == "" {
		c.ServiceName = "pointsledgerd"
	}
	if c.ClaimRatePerMinute <= 0 {
		c.ClaimRatePerMinute = 120
	}
	if c.ClaimBurst <= 0 {
		c.ClaimBurst = 10
	}
}

// Validate checks the principal addresses and admin credentials.
func (c *Config) Validate() error {
	if _, err := parseAddress(c.Owner, true); err != nil {
		return fmt.Errorf("config: Owner: %w", err)
	}
	if _, err := parseAddress(c.Signer, false); err != nil {
		return fmt.Errorf("config: Signer: %w", err)
	}
	if strings.TrimSpace(c.AdminToken) == "" {
		return fmt.Errorf("config: AdminToken is required")
	}
	if _, ok := c.OwnerFundingAmount(); !ok {
		return fmt.Errorf("config: OwnerFunding must be a positive decimal integer")
	}
	return nil
}

// OwnerFundingAmount parses the optional genesis funding for the owner's
// native balance. The boolean is false only when the value is present but
// malformed; an empty value yields (nil, true).
func (c *Config) OwnerFundingAmount() (*big.Int, bool) {
	trimmed := strings.TrimSpace(c.OwnerFunding)
	if trimmed == "" {
		return nil, true
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, false
	}
	return amount, true
}

// OwnerAddress returns the administrative principal.
func (c *Config) OwnerAddress() [20]byte {
	addr, _ := parseAddress(c.Owner, true)
	return addr
}

// SignerAddress returns the initial global signer and whether one was set.
func (c *Config) SignerAddress() ([20]byte, bool) {
	trimmed := strings.TrimSpace(c.Signer)
	if trimmed == "" {
		return [20]byte{}, false
	}
	addr, _ := parseAddress(c.Signer, false)
	return addr, true
}

func parseAddress(value string, required bool) ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		if required {
			return out, fmt.Errorf("address is required")
		}
		return out, nil
	}
	if !ethcommon.IsHexAddress(trimmed) {
		return out, fmt.Errorf("invalid hex address %q", value)
	}
	copy(out[:], ethcommon.HexToAddress(trimmed).Bytes())
	if out == ([20]byte{}) {
		return out, fmt.Errorf("address must not be zero")
	}
	return out, nil
}
