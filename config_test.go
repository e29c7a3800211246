package encprofile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, owner, cfg.OwnerAddress())
	assert.Equal(t, self, cfg.SelfAddress())
	assert.False(t, cfg.Grants.OwnerReadsAnalytics)
	assert.False(t, cfg.Grants.OwnerReadsInsights)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "encprofile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
owner: "0x00000000000000000000000000000000000000f0"
store:
  path: /var/lib/encprofile
  in_memory: false
cryptosystem:
  backend: bfv
  parties: 2
  bfv:
    equality_domain: 5
oracle:
  threshold: 3
  timeout: 30s
grants:
  owner_reads_insights: true
cache:
  life_window: 1m
log:
  level: debug
  format: json
`), 0600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "0x00000000000000000000000000000000000000f0", cfg.Owner)
	assert.Equal(t, BackendBFV, cfg.Cryptosystem.Backend)
	assert.Equal(t, 2, cfg.Cryptosystem.Parties)
	assert.Equal(t, 5, cfg.Cryptosystem.BFV.EqualityDomain)
	assert.Equal(t, uint64(65537), cfg.Cryptosystem.BFV.PlaintextModulus, "defaults survive")
	assert.Equal(t, 3, cfg.Oracle.Threshold)
	assert.Equal(t, 30*time.Second, cfg.Oracle.Timeout)
	assert.Equal(t, time.Minute, cfg.Cache.LifeWindow)
	assert.True(t, cfg.Grants.OwnerReadsInsights)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"bad owner", func(c *Config) { c.Owner = "alice" }},
		{"owner is self", func(c *Config) { c.Owner = c.Self }},
		{"unknown backend", func(c *Config) { c.Cryptosystem.Backend = "rsa" }},
		{"no parties", func(c *Config) { c.Cryptosystem.Parties = 0 }},
		{"no equality domain", func(c *Config) {
			c.Cryptosystem.Backend = BackendBFV
			c.Store = StoreConfig{Path: "/var/lib/encprofile"}
			c.Cryptosystem.BFV.EqualityDomain = 0
		}},
		{"bfv in memory", func(c *Config) { c.Cryptosystem.Backend = BackendBFV }},
		{"threshold above signers", func(c *Config) { c.Oracle.Threshold = c.Oracle.Signers + 1 }},
		{"no workers", func(c *Config) { c.Oracle.Workers = 0 }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	t.Run("bfv store", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Cryptosystem.Backend = BackendBFV
		assert.ErrorContains(t, cfg.Validate(), "on-disk store")
		cfg.Store = StoreConfig{Path: t.TempDir()}
		assert.NoError(t, cfg.Validate())
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})
}

func TestNewCryptosystem(t *testing.T) {
	cs, committee, err := NewCryptosystem(CryptoConfig{Backend: BackendClear, Parties: 3})
	require.NoError(t, err)
	assert.Len(t, committee.Shares, 3)
	ct, err := cs.Encrypt(9)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), decryptWith(t, committee, ct))

	_, _, err = NewCryptosystem(CryptoConfig{Backend: "rsa"})
	assert.Error(t, err)
}
