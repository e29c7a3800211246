package encprofile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareProfiles(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, VaultConfig{})
	require.NoError(t, env.vault.CreateProfile(ctx, alice, aliceProfile))
	other := aliceProfile
	other.SpendingPattern = 1
	other.LocationCluster = 0
	require.NoError(t, env.vault.CreateProfile(ctx, bob, other))

	t.Run("with itself", func(t *testing.T) {
		eq, err := env.vault.CompareProfiles(ctx, analyst, alice, alice)
		require.NoError(t, err)
		for _, h := range eq {
			assert.Equal(t, TypeBool, h.Type())
			assert.Equal(t, uint64(1), env.decrypt(t, h))
		}
	})

	t.Run("field order", func(t *testing.T) {
		eq, err := env.vault.CompareProfiles(ctx, owner, alice, bob)
		require.NoError(t, err)
		got := make([]uint64, len(eq))
		for i, h := range eq {
			got[i] = env.decrypt(t, h)
		}
		assert.Equal(t, []uint64{1, 1, 0, 1, 1, 0}, got)
	})

	t.Run("results are not granted to caller by default", func(t *testing.T) {
		eq, err := env.vault.CompareProfiles(ctx, analyst, alice, bob)
		require.NoError(t, err)
		assert.True(t, env.allowed(t, eq[0], self))
		assert.False(t, env.allowed(t, eq[0], analyst))
	})

	t.Run("preconditions", func(t *testing.T) {
		_, err := env.vault.CompareProfiles(ctx, mallory, alice, bob)
		assert.ErrorIs(t, err, ErrUnauthorized)
		_, err = env.vault.CompareProfiles(ctx, analyst, alice, mallory)
		assert.ErrorIs(t, err, ErrProfileNotFound)
		_, err = env.vault.CompareProfiles(ctx, analyst, mallory, alice)
		assert.ErrorIs(t, err, ErrProfileNotFound)
	})
}

func TestSimilarityScore(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, VaultConfig{Grants: GrantPolicy{CallerReadsResults: true}})
	require.NoError(t, env.vault.CreateProfile(ctx, alice, aliceProfile))

	t.Run("identical", func(t *testing.T) {
		score, err := env.vault.SimilarityScore(ctx, analyst, alice, alice)
		require.NoError(t, err)
		assert.Equal(t, TypeUint8, score.Type())
		assert.Equal(t, uint64(100), env.decrypt(t, score))
		assert.True(t, env.allowed(t, score, analyst))
	})

	modifiers := []func(*ProfileInput){
		func(in *ProfileInput) { in.AgeRange = 0 },
		func(in *ProfileInput) { in.IncomeLevel = 0 },
		func(in *ProfileInput) { in.SpendingPattern = 0 },
		func(in *ProfileInput) { in.RiskTolerance = 0 },
		func(in *ProfileInput) { in.DigitalActivity = 0 },
		func(in *ProfileInput) { in.LocationCluster = 0 },
	}
	identities := []string{
		"0x0000000000000000000000000000000000001001",
		"0x0000000000000000000000000000000000001002",
		"0x0000000000000000000000000000000000001003",
		"0x0000000000000000000000000000000000001004",
		"0x0000000000000000000000000000000000001005",
		"0x0000000000000000000000000000000000001006",
	}
	for i, modify := range modifiers {
		t.Run("differs in one field", func(t *testing.T) {
			id := addr(identities[i])
			in := aliceProfile
			modify(&in)
			require.NoError(t, env.vault.CreateProfile(ctx, id, in))

			score, err := env.vault.SimilarityScore(ctx, analyst, alice, id)
			require.NoError(t, err)
			assert.Equal(t, uint64(100-Weights[i]), env.decrypt(t, score))
		})
	}

	t.Run("nothing in common", func(t *testing.T) {
		id := addr("0x0000000000000000000000000000000000002000")
		require.NoError(t, env.vault.CreateProfile(ctx, id, ProfileInput{0, 0, 0, 0, 0, 0}))
		score, err := env.vault.SimilarityScore(ctx, owner, alice, id)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), env.decrypt(t, score))
	})

	t.Run("preconditions", func(t *testing.T) {
		_, err := env.vault.SimilarityScore(ctx, bob, alice, alice)
		assert.ErrorIs(t, err, ErrUnauthorized)
		_, err = env.vault.SimilarityScore(ctx, analyst, alice, bob)
		assert.ErrorIs(t, err, ErrProfileNotFound)
	})
}

func TestWeightsSumToHundred(t *testing.T) {
	sum := 0
	for _, w := range Weights {
		sum += int(w)
	}
	assert.Equal(t, 100, sum)
}

func TestSimilarityScoreUnsupportedBackend(t *testing.T) {
	if testing.Short() {
		t.Skip("threshold Paillier key generation is slow")
	}
	cs, committee, err := NewDJ(DJConfig{Parties: 2, BitSize: 256})
	require.NoError(t, err)
	env := newTestEnvWith(t, cs, committee, VaultConfig{})
	ctx := context.Background()
	require.NoError(t, env.vault.CreateProfile(ctx, alice, aliceProfile))

	handles, err := env.vault.ProfileHandles(alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(aliceProfile.IncomeLevel), env.decrypt(t, handles[1]))

	_, err = env.vault.SimilarityScore(ctx, analyst, alice, alice)
	assert.ErrorIs(t, err, ErrUnsupportedOperation)
}

func TestComparisonStoresOnlyResults(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, VaultConfig{})
	require.NoError(t, env.vault.CreateProfile(ctx, alice, aliceProfile))
	other := aliceProfile
	other.AgeRange = 0
	require.NoError(t, env.vault.CreateProfile(ctx, bob, other))

	t.Run("score", func(t *testing.T) {
		before := countCiphertexts(t, env.store)
		score, err := env.vault.SimilarityScore(ctx, analyst, alice, bob)
		require.NoError(t, err)
		assert.Equal(t, before+1, countCiphertexts(t, env.store))
		assert.Equal(t, uint64(80), env.decrypt(t, score))
	})

	t.Run("compare", func(t *testing.T) {
		before := countCiphertexts(t, env.store)
		_, err := env.vault.CompareProfiles(ctx, analyst, alice, bob)
		require.NoError(t, err)
		assert.Equal(t, before+6, countCiphertexts(t, env.store))
	})
}
