package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"chgnet/indexer"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for chgnetd.
type Config struct {
	Service       string            `yaml:"service"`
	Environment   string            `yaml:"environment"`
	LogLevel      string            `yaml:"log_level"`
	ListenAddress string            `yaml:"listen"`
	Database      DatabaseConfig    `yaml:"database"`
	Ledger        LedgerConfig      `yaml:"ledger"`
	Indexer       IndexerConfig     `yaml:"indexer"`
	Epoch         EpochConfig       `yaml:"epoch"`
	Oracle        OracleConfig      `yaml:"oracle"`
	Contracts     map[string]string `yaml:"contracts"`
}

// DatabaseConfig selects the relational state store backing the node.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// LedgerConfig configures the EVM ledger connection logs are scanned from.
type LedgerConfig struct {
	Endpoint    string   `yaml:"endpoint"`
	CallTimeout Duration `yaml:"call_timeout"`
}

// IndexerConfig tunes the per-contract poll loops.
type IndexerConfig struct {
	PollInterval  Duration `yaml:"poll_interval"`
	MaxBlockRange uint64   `yaml:"max_block_range"`
}

// EpochConfig anchors the epoch schedule.
type EpochConfig struct {
	Epoch0Start time.Time `yaml:"epoch0_start"`
	Duration    Duration  `yaml:"duration"`
	GracePeriod Duration  `yaml:"grace_period"`
}

// OracleConfig seeds the attestation allowlist and names the owner allowed to
// mutate it.
type OracleConfig struct {
	Owner     string   `yaml:"owner"`
	Allowlist []string `yaml:"allowlist"`
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Service == "" {
		cfg.Service = "chgnetd"
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7410"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Ledger.CallTimeout.Duration == 0 {
		cfg.Ledger.CallTimeout.Duration = 15 * time.Second
	}
	if cfg.Indexer.PollInterval.Duration == 0 {
		cfg.Indexer.PollInterval.Duration = 5 * time.Second
	}
	if cfg.Indexer.MaxBlockRange == 0 {
		cfg.Indexer.MaxBlockRange = 5000
	}
	if cfg.Epoch.Duration.Duration == 0 {
		cfg.Epoch.Duration.Duration = 24 * time.Hour
	}
	if cfg.Epoch.GracePeriod.Duration == 0 {
		cfg.Epoch.GracePeriod.Duration = 6 * time.Hour
	}
	if cfg.Contracts == nil {
		cfg.Contracts = map[string]string{}
	}
}

// Validate rejects configurations the node cannot run with.
func Validate(cfg Config) error {
	switch cfg.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database driver %q not supported", cfg.Database.Driver)
	}
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return fmt.Errorf("database dsn must be configured")
	}
	if strings.TrimSpace(cfg.Ledger.Endpoint) == "" {
		return fmt.Errorf("ledger endpoint must be configured")
	}
	if cfg.Epoch.Epoch0Start.IsZero() {
		return fmt.Errorf("epoch0_start must be configured")
	}
	if len(cfg.Contracts) == 0 {
		return fmt.Errorf("at least one contract address must be configured")
	}
	for name, addr := range cfg.Contracts {
		if !indexer.KnownContract(name) {
			return fmt.Errorf("contract %q is not a known event source", name)
		}
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("contract %s address %q is not a hex address", name, addr)
		}
	}
	if owner := strings.TrimSpace(cfg.Oracle.Owner); owner != "" && !common.IsHexAddress(owner) {
		return fmt.Errorf("oracle owner %q is not a hex address", cfg.Oracle.Owner)
	}
	for _, signer := range cfg.Oracle.Allowlist {
		if !common.IsHexAddress(signer) {
			return fmt.Errorf("oracle signer %q is not a hex address", signer)
		}
	}
	return nil
}

// AllowlistAddresses decodes the configured oracle allowlist.
func (c Config) AllowlistAddresses() [][20]byte {
	out := make([][20]byte, 0, len(c.Oracle.Allowlist))
	for _, signer := range c.Oracle.Allowlist {
		out = append(out, common.HexToAddress(signer))
	}
	return out
}

// OwnerAddress decodes the configured owner, or the zero address when unset.
func (c Config) OwnerAddress() [20]byte {
	if strings.TrimSpace(c.Oracle.Owner) == "" {
		return [20]byte{}
	}
	return common.HexToAddress(c.Oracle.Owner)
}

// ContractAddress decodes one configured contract address.
func (c Config) ContractAddress(name string) (common.Address, bool) {
	raw, ok := c.Contracts[name]
	if !ok {
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}
