package encprofile

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

const (
	BackendBFV   = "bfv"
	BackendDJ    = "dj"
	BackendClear = "clear"
)

type Config struct {
	// Self is the principal of the vault process, Owner the administrator.
	Self         string       `yaml:"self"`
	Owner        string       `yaml:"owner"`
	Store        StoreConfig  `yaml:"store"`
	Cryptosystem CryptoConfig `yaml:"cryptosystem"`
	Oracle       OracleConfig `yaml:"oracle"`
	Grants       GrantPolicy  `yaml:"grants"`
	Cache        CacheConfig  `yaml:"cache"`
	Log          LogConfig    `yaml:"log"`
}

type StoreConfig struct {
	Path       string `yaml:"path"`
	InMemory   bool   `yaml:"in_memory"`
	SyncWrites bool   `yaml:"sync_writes"`
}

type CryptoConfig struct {
	Backend string    `yaml:"backend"`
	Parties int       `yaml:"parties"`
	BFV     BFVConfig `yaml:"bfv"`
	DJ      DJConfig  `yaml:"dj"`
}

type BFVConfig struct {
	Parties          int    `yaml:"-"`
	PlaintextModulus uint64 `yaml:"plaintext_modulus"`
	// EqualityDomain bounds |a-b| for which Eq is exact.
	EqualityDomain int `yaml:"equality_domain"`
	MaxDepth       int `yaml:"max_depth"`
}

type DJConfig struct {
	Parties int `yaml:"-"`
	BitSize int `yaml:"bit_size"`
}

type OracleConfig struct {
	Workers   int           `yaml:"workers"`
	QueueSize int           `yaml:"queue_size"`
	Signers   int           `yaml:"signers"`
	Threshold int           `yaml:"threshold"`
	Timeout   time.Duration `yaml:"timeout"`
}

// GrantPolicy decides who besides the vault may decrypt analyst-derived
// ciphertexts.
type GrantPolicy struct {
	OwnerReadsAnalytics bool `yaml:"owner_reads_analytics"`
	OwnerReadsInsights  bool `yaml:"owner_reads_insights"`
	CallerReadsResults  bool `yaml:"caller_reads_results"`
}

// CacheConfig sizes the ciphertext cache. Shards are derived from
// HardMaxMB and the backend's ciphertext size.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	LifeWindow time.Duration `yaml:"life_window"`
	HardMaxMB  int           `yaml:"hard_max_mb"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

func DefaultConfig() Config {
	return Config{
		Self:  "0x00000000000000000000000000000000000000e1",
		Owner: "0x00000000000000000000000000000000000000a0",
		Store: StoreConfig{InMemory: true},
		Cryptosystem: CryptoConfig{
			Backend: BackendClear,
			Parties: 3,
			BFV:     BFVConfig{PlaintextModulus: 65537, EqualityDomain: 19, MaxDepth: 16},
			DJ:      DJConfig{BitSize: 512},
		},
		Oracle: OracleConfig{
			Workers:   2,
			QueueSize: 64,
			Signers:   3,
			Threshold: 2,
			Timeout:   time.Minute,
		},
		Cache: CacheConfig{
			Enabled:    true,
			LifeWindow: 10 * time.Minute,
			HardMaxMB:  256,
		},
		Log: LogConfig{Level: "info", Format: "console", MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 28},
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if !common.IsHexAddress(c.Self) {
		errs = append(errs, fmt.Errorf("self: invalid address %q", c.Self))
	}
	if !common.IsHexAddress(c.Owner) {
		errs = append(errs, fmt.Errorf("owner: invalid address %q", c.Owner))
	}
	if c.SelfAddress() == c.OwnerAddress() {
		errs = append(errs, errors.New("self and owner must differ"))
	}
	switch c.Cryptosystem.Backend {
	case BackendBFV:
		if c.Cryptosystem.BFV.EqualityDomain < 1 {
			errs = append(errs, errors.New("cryptosystem.bfv.equality_domain must be positive"))
		}
		// a BFV blob is about 1.5 MB, above the in-memory value limit of 1 MB
		if c.Store.InMemory || c.Store.Path == "" {
			errs = append(errs, errors.New("cryptosystem.bfv needs an on-disk store: set store.path and store.in_memory: false"))
		}
	case BackendDJ:
		if c.Cryptosystem.DJ.BitSize < 64 {
			errs = append(errs, errors.New("cryptosystem.dj.bit_size too small"))
		}
	case BackendClear:
	default:
		errs = append(errs, fmt.Errorf("cryptosystem.backend: unknown backend %q", c.Cryptosystem.Backend))
	}
	if c.Cryptosystem.Parties < 1 {
		errs = append(errs, errors.New("cryptosystem.parties must be positive"))
	}
	if c.Oracle.Workers < 1 {
		errs = append(errs, errors.New("oracle.workers must be positive"))
	}
	if c.Oracle.QueueSize < 1 {
		errs = append(errs, errors.New("oracle.queue_size must be positive"))
	}
	if c.Oracle.Threshold < 1 || c.Oracle.Threshold > c.Oracle.Signers {
		errs = append(errs, fmt.Errorf("oracle.threshold %d outside [1, %d]", c.Oracle.Threshold, c.Oracle.Signers))
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

func (c Config) SelfAddress() common.Address {
	return common.HexToAddress(c.Self)
}

func (c Config) OwnerAddress() common.Address {
	return common.HexToAddress(c.Owner)
}

// NewCryptosystem builds the configured backend and its committee.
func NewCryptosystem(cfg CryptoConfig) (Cryptosystem, *Committee, error) {
	switch cfg.Backend {
	case BackendBFV:
		bfvCfg := cfg.BFV
		bfvCfg.Parties = cfg.Parties
		return NewBFV(bfvCfg)
	case BackendDJ:
		djCfg := cfg.DJ
		djCfg.Parties = cfg.Parties
		return NewDJ(djCfg)
	case BackendClear:
		cs, committee := NewClear(cfg.Parties)
		return cs, committee, nil
	}
	return nil, nil, fmt.Errorf("unknown cryptosystem backend %q", cfg.Backend)
}
