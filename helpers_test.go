package encprofile

import (
	"context"
	"crypto/ecdsa"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	owner   = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	self    = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	analyst = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	alice   = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob     = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	mallory = common.HexToAddress("0x000000000000000000000000000000000000dead")
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	vault     *Vault
	store     *BadgerStore
	cs        Cryptosystem
	committee *Committee
	clock     *fakeClock
	events    *Events
}

func openTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := OpenBadger(StoreConfig{InMemory: true}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// newTestEnv builds a vault on the cleartext backend with analyst already
// authorized.
func newTestEnv(t *testing.T, cfg VaultConfig, opts ...Option) *testEnv {
	t.Helper()
	cs, committee := NewClear(1)
	return newTestEnvWith(t, cs, committee, cfg, opts...)
}

func newTestEnvWith(t *testing.T, cs Cryptosystem, committee *Committee, cfg VaultConfig, opts ...Option) *testEnv {
	t.Helper()
	return newTestEnvOn(t, openTestStore(t), cs, committee, cfg, opts...)
}

// openDiskStore is needed by backends whose ciphertexts exceed the
// in-memory value limit.
func openDiskStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := OpenBadger(StoreConfig{Path: t.TempDir()}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestEnvOn(t *testing.T, store *BadgerStore, cs Cryptosystem, committee *Committee, cfg VaultConfig, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{
		store:     store,
		cs:        cs,
		committee: committee,
		clock:     newFakeClock(),
		events:    NewEvents(zaptest.NewLogger(t)),
	}
	if cfg.Self == (common.Address{}) {
		cfg.Self = self
	}
	if cfg.Owner == (common.Address{}) {
		cfg.Owner = owner
	}
	opts = append([]Option{
		WithLogger(zaptest.NewLogger(t)),
		WithClock(env.clock.Now),
		WithEvents(env.events),
	}, opts...)
	vault, err := NewVault(env.store, cs, cfg, opts...)
	require.NoError(t, err)
	env.vault = vault
	require.NoError(t, vault.AuthorizeAnalyst(context.Background(), owner, analyst))
	return env
}

// decrypt plays a harness with access to every key share.
func (env *testEnv) decrypt(t *testing.T, h Handle) uint64 {
	t.Helper()
	var ct Ciphertext
	err := env.store.View(func(txn Txn) error {
		var err error
		ct, err = env.vault.exec.Session(txn, env.vault.cfg.Self).Ciphertext(h)
		return err
	})
	require.NoError(t, err)
	return decryptWith(t, env.committee, ct)
}

func decryptWith(t *testing.T, committee *Committee, ct Ciphertext) uint64 {
	t.Helper()
	parts := make([]PartialDecryption, len(committee.Shares))
	for i, ks := range committee.Shares {
		part, err := ks.PartialDecrypt(ct)
		require.NoError(t, err)
		parts[i] = part
	}
	v, err := committee.Combiner.CombinePartials(parts)
	require.NoError(t, err)
	return v
}

func (env *testEnv) allowed(t *testing.T, h Handle, p common.Address) bool {
	t.Helper()
	ok, err := env.vault.ACL().IsAllowed(h, p)
	require.NoError(t, err)
	return ok
}

var aliceProfile = ProfileInput{
	AgeRange:        3,
	IncomeLevel:     5,
	SpendingPattern: 7,
	RiskTolerance:   2,
	DigitalActivity: 9,
	LocationCluster: 14,
}

func addr(hex string) common.Address {
	return common.HexToAddress(hex)
}

func signerAddresses(keys []*ecdsa.PrivateKey) []common.Address {
	out := make([]common.Address, len(keys))
	for i, key := range keys {
		out[i] = crypto.PubkeyToAddress(key.PublicKey)
	}
	return out
}
