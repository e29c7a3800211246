package encprofile

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDJ(t *testing.T) {
	if testing.Short() {
		t.Skip("threshold Paillier key generation is slow")
	}
	cs, committee, err := NewDJ(DJConfig{Parties: 3, BitSize: 256})
	require.NoError(t, err)
	require.Len(t, committee.Shares, 3)

	a, err := cs.Encrypt(40)
	require.NoError(t, err)
	b, err := cs.Encrypt(2)
	require.NoError(t, err)

	t.Run("decrypt", func(t *testing.T) {
		assert.Equal(t, uint64(40), decryptWith(t, committee, a))
	})

	t.Run("add", func(t *testing.T) {
		sum, err := cs.Add(a, b)
		require.NoError(t, err)
		assert.Equal(t, uint64(42), decryptWith(t, committee, sum))
	})

	t.Run("marshal", func(t *testing.T) {
		data, err := cs.MarshalCiphertext(a)
		require.NoError(t, err)
		back, err := cs.UnmarshalCiphertext(data)
		require.NoError(t, err)
		assert.Equal(t, 0, a.(*big.Int).Cmp(back.(*big.Int)))
		_, err = cs.UnmarshalCiphertext(nil)
		assert.ErrorIs(t, err, ErrInvalidCiphertext)
	})

	t.Run("comparison unsupported", func(t *testing.T) {
		_, err := cs.Eq(a, b)
		assert.ErrorIs(t, err, ErrUnsupportedOperation)
		_, err = cs.Select(a, a, b)
		assert.ErrorIs(t, err, ErrUnsupportedOperation)
	})

	t.Run("missing share", func(t *testing.T) {
		part, err := committee.Shares[0].PartialDecrypt(a)
		require.NoError(t, err)
		_, err = committee.Combiner.CombinePartials([]PartialDecryption{part})
		assert.Error(t, err)
	})

	t.Run("plaintext space", func(t *testing.T) {
		assert.True(t, fits(cs, 1<<63))
		assert.Equal(t, cs.PubKey.N, cs.N())
	})
}

func TestNewDJRejectsPartyCount(t *testing.T) {
	_, _, err := NewDJ(DJConfig{Parties: 0, BitSize: 256})
	assert.Error(t, err)
	_, _, err = NewDJ(DJConfig{Parties: 300, BitSize: 256})
	assert.Error(t, err)
}
