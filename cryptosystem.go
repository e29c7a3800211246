package encprofile

import (
	"errors"
	"math/big"
)

var (
	ErrUnsupportedOperation = errors.New("operation not supported by cryptosystem")
	ErrPlaintextOverflow    = errors.New("plaintext does not fit the plaintext space")
	ErrDepthExceeded        = errors.New("multiplicative depth exceeded")
	ErrInvalidCiphertext    = errors.New("invalid ciphertext")
)

// Ciphertext is an opaque value owned by one Cryptosystem.
type Ciphertext interface{}

// PartialDecryption is one key holder's contribution to a decryption.
type PartialDecryption interface{}

// Cryptosystem is the homomorphic primitive. Implementations never see
// plaintext after Encrypt and hold no secret key material.
type Cryptosystem interface {
	Encrypt(plaintext uint64) (Ciphertext, error)
	Add(a, b Ciphertext) (Ciphertext, error)
	// Eq returns an encryption of 1 if a and b hold the same value, else 0.
	Eq(a, b Ciphertext) (Ciphertext, error)
	// Select returns ifTrue when cond holds 1 and ifFalse when it holds 0.
	Select(cond, ifTrue, ifFalse Ciphertext) (Ciphertext, error)
	MarshalCiphertext(Ciphertext) ([]byte, error)
	UnmarshalCiphertext([]byte) (Ciphertext, error)
	N() *big.Int // size of plaintext space
}

// KeyShare is held by a single committee member.
type KeyShare interface {
	PartialDecrypt(Ciphertext) (PartialDecryption, error)
}

// Combiner turns a full set of partial decryptions into the plaintext.
type Combiner interface {
	CombinePartials([]PartialDecryption) (uint64, error)
}

// Committee is the secret side of a cryptosystem: the key shares and the
// material needed to combine their output.
type Committee struct {
	Shares   []KeyShare
	Combiner Combiner
}

// fits reports whether v can be encrypted under cs.
func fits(cs Cryptosystem, v uint64) bool {
	return new(big.Int).SetUint64(v).Cmp(cs.N()) < 0
}
