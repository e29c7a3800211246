package encprofile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateProfile(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, VaultConfig{})

	var created []Notification
	require.NoError(t, env.events.Subscribe(TopicProfileCreated, func(n Notification) {
		created = append(created, n)
	}))

	require.NoError(t, env.vault.CreateProfile(ctx, alice, aliceProfile))

	t.Run("status", func(t *testing.T) {
		status, err := env.vault.ProfileStatus(alice)
		require.NoError(t, err)
		assert.True(t, status.Active)
		assert.True(t, env.clock.Now().Equal(status.CreatedAt))
		assert.True(t, status.CreatedAt.Equal(status.LastUpdated))

		active, err := env.vault.IsActive(alice)
		require.NoError(t, err)
		assert.True(t, active)

		active, err = env.vault.IsActive(bob)
		require.NoError(t, err)
		assert.False(t, active)

		stored, err := LoadProfileStatus(env.store, alice)
		require.NoError(t, err)
		assert.Equal(t, status, stored)
	})

	t.Run("encrypted fields", func(t *testing.T) {
		handles, err := env.vault.ProfileHandles(alice)
		require.NoError(t, err)
		for i, want := range aliceProfile.fields() {
			assert.Equal(t, TypeUint8, handles[i].Type())
			assert.Equal(t, uint64(want), env.decrypt(t, handles[i]))
		}
	})

	t.Run("grants", func(t *testing.T) {
		handles, err := env.vault.ProfileHandles(alice)
		require.NoError(t, err)
		for _, h := range handles {
			assert.True(t, env.allowed(t, h, self))
			assert.True(t, env.allowed(t, h, alice))
			assert.False(t, env.allowed(t, h, owner))
			assert.False(t, env.allowed(t, h, bob))
		}
	})

	t.Run("notification", func(t *testing.T) {
		require.Len(t, created, 1)
		assert.Equal(t, alice, created[0].Subject)
	})

	t.Run("no handles without profile", func(t *testing.T) {
		_, err := env.vault.ProfileHandles(bob)
		assert.ErrorIs(t, err, ErrProfileNotFound)
	})
}

func TestCreateProfileTwice(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, VaultConfig{})
	require.NoError(t, env.vault.CreateProfile(ctx, alice, aliceProfile))

	handles, err := env.vault.ProfileHandles(alice)
	require.NoError(t, err)
	status, err := env.vault.ProfileStatus(alice)
	require.NoError(t, err)
	dist := env.vault.Distributions()

	env.clock.Advance(time.Hour)
	other := aliceProfile
	other.AgeRange = 6
	err = env.vault.CreateProfile(ctx, alice, other)
	assert.ErrorIs(t, err, ErrAlreadyExists)

	after, err := env.vault.ProfileHandles(alice)
	require.NoError(t, err)
	assert.Equal(t, handles, after)
	afterStatus, err := env.vault.ProfileStatus(alice)
	require.NoError(t, err)
	assert.Equal(t, status, afterStatus)
	assert.Equal(t, dist, env.vault.Distributions())
	assert.Equal(t, uint64(1), env.vault.TotalUsers())
}

func TestCreateProfileOutOfRange(t *testing.T) {
	tests := []struct {
		field  string
		modify func(*ProfileInput)
	}{
		{"ageRange", func(in *ProfileInput) { in.AgeRange = MaxAgeRange + 1 }},
		{"incomeLevel", func(in *ProfileInput) { in.IncomeLevel = MaxIncomeLevel + 1 }},
		{"spendingPattern", func(in *ProfileInput) { in.SpendingPattern = MaxSpendingPattern + 1 }},
		{"riskTolerance", func(in *ProfileInput) { in.RiskTolerance = MaxRiskTolerance + 1 }},
		{"digitalActivity", func(in *ProfileInput) { in.DigitalActivity = MaxDigitalActivity + 1 }},
		{"locationCluster", func(in *ProfileInput) { in.LocationCluster = MaxLocationCluster + 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			env := newTestEnv(t, VaultConfig{})
			in := aliceProfile
			tt.modify(&in)

			err := env.vault.CreateProfile(context.Background(), alice, in)
			require.ErrorIs(t, err, ErrOutOfRange)
			var rangeErr *RangeError
			require.True(t, errors.As(err, &rangeErr))
			assert.Equal(t, tt.field, rangeErr.Field)

			active, err := env.vault.IsActive(alice)
			require.NoError(t, err)
			assert.False(t, active)
			assert.Equal(t, Histograms{}, env.vault.Distributions())
			assert.Zero(t, env.vault.TotalUsers())
			assertNoCiphertexts(t, env)
		})
	}
}

func TestCreateProfileAtMaximum(t *testing.T) {
	env := newTestEnv(t, VaultConfig{})
	in := ProfileInput{MaxAgeRange, MaxIncomeLevel, MaxSpendingPattern, MaxRiskTolerance, MaxDigitalActivity, MaxLocationCluster}
	require.NoError(t, env.vault.CreateProfile(context.Background(), alice, in))
}

func TestCanceledContext(t *testing.T) {
	env := newTestEnv(t, VaultConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, env.vault.CreateProfile(ctx, alice, aliceProfile), context.Canceled)
	active, err := env.vault.IsActive(alice)
	require.NoError(t, err)
	assert.False(t, active)
}

func assertNoCiphertexts(t *testing.T, env *testEnv) {
	t.Helper()
	assert.Zero(t, countCiphertexts(t, env.store))
}

func countCiphertexts(t *testing.T, kv KV) int {
	t.Helper()
	count := 0
	err := kv.View(func(txn Txn) error {
		return txn.Iterate([]byte(prefixCT), func(_, _ []byte) error {
			count++
			return nil
		})
	})
	require.NoError(t, err)
	return count
}
