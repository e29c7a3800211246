package encprofile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// newBFVVault runs the vault on the default BFV parameters, which need an
// on-disk store.
func newBFVVault(t *testing.T, cfg VaultConfig, opts ...Option) *testEnv {
	t.Helper()
	if testing.Short() {
		t.Skip("collective BFV key generation and equality circuits are slow")
	}
	cs, committee := newDefaultBFV(t)
	return newTestEnvOn(t, openDiskStore(t), cs, committee, cfg, opts...)
}

func newDefaultBFV(t *testing.T) (*BFVCryptosystem, *Committee) {
	t.Helper()
	cfg := DefaultConfig().Cryptosystem.BFV
	cfg.Parties = 2
	cs, committee, err := NewBFV(cfg)
	require.NoError(t, err)
	return cs, committee
}

func TestBFVVaultComparison(t *testing.T) {
	ctx := context.Background()
	env := newBFVVault(t, VaultConfig{})
	require.NoError(t, env.vault.CreateProfile(ctx, alice, aliceProfile))
	other := aliceProfile
	other.IncomeLevel = 0
	require.NoError(t, env.vault.CreateProfile(ctx, bob, other))

	t.Run("fields", func(t *testing.T) {
		handles, err := env.vault.ProfileHandles(alice)
		require.NoError(t, err)
		assert.Equal(t, uint64(aliceProfile.LocationCluster), env.decrypt(t, handles[5]))
	})

	t.Run("with itself", func(t *testing.T) {
		eq, err := env.vault.CompareProfiles(ctx, analyst, alice, alice)
		require.NoError(t, err)
		for _, h := range eq {
			assert.Equal(t, uint64(1), env.decrypt(t, h))
		}
	})

	t.Run("differs in one field", func(t *testing.T) {
		score, err := env.vault.SimilarityScore(ctx, analyst, alice, bob)
		require.NoError(t, err)
		assert.Equal(t, uint64(100-Weights[1]), env.decrypt(t, score))
	})
}

func TestBFVVaultAnalyticsLimit(t *testing.T) {
	ctx := context.Background()
	env := newBFVVault(t, VaultConfig{})
	require.NoError(t, env.vault.CreateProfile(ctx, alice, aliceProfile))
	limit := env.cs.N().Uint64()

	t.Run("above plaintext space", func(t *testing.T) {
		in := sampleAnalytics
		in.TotalInteractions = uint32(limit)
		err := env.vault.RecordAnalytics(ctx, analyst, alice, in)
		assert.ErrorIs(t, err, ErrPlaintextOverflow)
		status, err := env.vault.AnalyticsStatus(alice)
		require.NoError(t, err)
		assert.False(t, status.HasData)
	})

	t.Run("largest value", func(t *testing.T) {
		in := sampleAnalytics
		in.TotalInteractions = uint32(limit - 1)
		require.NoError(t, env.vault.RecordAnalytics(ctx, analyst, alice, in))
		record, err := env.vault.AnalyticsHandles(analyst, alice)
		require.NoError(t, err)
		assert.Equal(t, limit-1, env.decrypt(t, record.TotalInteractions))
	})
}

func TestBFVVaultDecryption(t *testing.T) {
	if testing.Short() {
		t.Skip("collective BFV key generation is slow")
	}
	ctx := context.Background()
	cs, committee := newDefaultBFV(t)
	gateway, err := NewGateway(committee, OracleConfig{Workers: 1, QueueSize: 2, Signers: 2, Timeout: time.Minute}, zaptest.NewLogger(t))
	require.NoError(t, err)
	attesters, err := gateway.SignerSet(2)
	require.NoError(t, err)
	env := newTestEnvOn(t, openDiskStore(t), cs, committee, VaultConfig{Attesters: attesters}, WithOracle(gateway))
	require.NoError(t, env.vault.CreateProfile(ctx, alice, aliceProfile))

	results := make(chan ProfileDecrypted, 1)
	require.NoError(t, env.events.Subscribe(TopicProfileDecrypted, func(e ProfileDecrypted) {
		results <- e
	}))
	gateway.Start(ctx)
	defer gateway.Stop()

	id, err := env.vault.RequestProfileDecryption(ctx, analyst, alice)
	require.NoError(t, err)
	select {
	case res := <-results:
		assert.Equal(t, id, res.RequestID)
		assert.Equal(t, aliceValues(), res.Values)
	case <-time.After(time.Minute):
		t.Fatal("no decryption delivered")
	}
}
