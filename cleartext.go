package encprofile

import (
	"encoding/binary"
	"fmt"
	"math/big"
)

// ClearCryptosystem carries plaintext in place of ciphertext. It satisfies
// the same contract as the homomorphic backends and is meant for tests and
// local development only.
type ClearCryptosystem struct {
	modulus uint64
}

type clearCiphertext uint64

type clearShare struct{}

type clearCombiner struct {
	parties int
}

// NewClear returns a passthrough cryptosystem working modulo 2^32 and a
// committee of the given size.
func NewClear(parties int) (*ClearCryptosystem, *Committee) {
	if parties < 1 {
		parties = 1
	}
	committee := &Committee{Combiner: clearCombiner{parties: parties}}
	for i := 0; i < parties; i++ {
		committee.Shares = append(committee.Shares, clearShare{})
	}
	return &ClearCryptosystem{modulus: 1 << 32}, committee
}

func (cs *ClearCryptosystem) Encrypt(plaintext uint64) (Ciphertext, error) {
	if plaintext >= cs.modulus {
		return nil, ErrPlaintextOverflow
	}
	return clearCiphertext(plaintext), nil
}

func (cs *ClearCryptosystem) Add(a, b Ciphertext) (Ciphertext, error) {
	ac, bc, err := clearPair(a, b)
	if err != nil {
		return nil, err
	}
	return clearCiphertext((uint64(ac) + uint64(bc)) % cs.modulus), nil
}

func (cs *ClearCryptosystem) Eq(a, b Ciphertext) (Ciphertext, error) {
	ac, bc, err := clearPair(a, b)
	if err != nil {
		return nil, err
	}
	if ac == bc {
		return clearCiphertext(1), nil
	}
	return clearCiphertext(0), nil
}

func (cs *ClearCryptosystem) Select(cond, ifTrue, ifFalse Ciphertext) (Ciphertext, error) {
	c, ok := cond.(clearCiphertext)
	if !ok {
		return nil, fmt.Errorf("%w: expected clear ciphertext, got %T", ErrInvalidCiphertext, cond)
	}
	tc, fc, err := clearPair(ifTrue, ifFalse)
	if err != nil {
		return nil, err
	}
	if c != 0 {
		return tc, nil
	}
	return fc, nil
}

func (cs *ClearCryptosystem) MarshalCiphertext(ct Ciphertext) ([]byte, error) {
	c, ok := ct.(clearCiphertext)
	if !ok {
		return nil, fmt.Errorf("%w: expected clear ciphertext, got %T", ErrInvalidCiphertext, ct)
	}
	return binary.BigEndian.AppendUint64(nil, uint64(c)), nil
}

func (cs *ClearCryptosystem) UnmarshalCiphertext(data []byte) (Ciphertext, error) {
	if len(data) != 8 {
		return nil, ErrInvalidCiphertext
	}
	return clearCiphertext(binary.BigEndian.Uint64(data)), nil
}

func (cs *ClearCryptosystem) N() *big.Int {
	return new(big.Int).SetUint64(cs.modulus)
}

func (clearShare) PartialDecrypt(ct Ciphertext) (PartialDecryption, error) {
	c, ok := ct.(clearCiphertext)
	if !ok {
		return nil, fmt.Errorf("%w: expected clear ciphertext, got %T", ErrInvalidCiphertext, ct)
	}
	return c, nil
}

func (c clearCombiner) CombinePartials(parts []PartialDecryption) (uint64, error) {
	if len(parts) != c.parties {
		return 0, fmt.Errorf("clear: need %d partial decryptions, got %d", c.parties, len(parts))
	}
	first, ok := parts[0].(clearCiphertext)
	if !ok {
		return 0, fmt.Errorf("clear: unexpected partial decryption %T", parts[0])
	}
	for _, p := range parts[1:] {
		if p != PartialDecryption(first) {
			return 0, fmt.Errorf("clear: partial decryptions disagree")
		}
	}
	return uint64(first), nil
}

func clearPair(a, b Ciphertext) (clearCiphertext, clearCiphertext, error) {
	ac, ok := a.(clearCiphertext)
	if !ok {
		return 0, 0, fmt.Errorf("%w: expected clear ciphertext, got %T", ErrInvalidCiphertext, a)
	}
	bc, ok := b.(clearCiphertext)
	if !ok {
		return 0, 0, fmt.Errorf("%w: expected clear ciphertext, got %T", ErrInvalidCiphertext, b)
	}
	return ac, bc, nil
}
