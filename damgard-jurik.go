package encprofile

import (
	"fmt"
	"math/big"

	"github.com/niclabs/tcpaillier"
)

// Damgård-Jurik cryptosystem
//
// Additively homomorphic only: Eq and Select report ErrUnsupportedOperation,
// so a vault on this backend can store and decrypt records but cannot run
// the similarity engine.

type DJCryptosystem struct {
	*tcpaillier.PubKey
}

type djKeyShare struct {
	*tcpaillier.KeyShare
}

// NewDJ deals an n-of-n threshold key of bitSize bits.
func NewDJ(cfg DJConfig) (*DJCryptosystem, *Committee, error) {
	if cfg.Parties < 1 || cfg.Parties > 255 {
		return nil, nil, fmt.Errorf("dj: party count %d out of range", cfg.Parties)
	}
	tcsks, tcpk, err := GenerateKeys(cfg.BitSize, 1, uint8(cfg.Parties))
	if err != nil {
		return nil, nil, fmt.Errorf("dj: key generation: %w", err)
	}
	cs := &DJCryptosystem{tcpk}
	committee := &Committee{Combiner: cs}
	for _, tcsk := range tcsks {
		committee.Shares = append(committee.Shares, djKeyShare{tcsk})
	}
	return cs, committee, nil
}

// generate n key shares of bitSize and one public key, using parameter s (where e.g. s = 1)
func GenerateKeys(bitSize int, s, n uint8) ([]*tcpaillier.KeyShare, *tcpaillier.PubKey, error) {
	return tcpaillier.NewKey(bitSize, s, n, n)
}

func (pk *DJCryptosystem) Encrypt(plaintext uint64) (Ciphertext, error) {
	m := new(big.Int).SetUint64(plaintext)
	if m.Cmp(pk.PubKey.N) >= 0 {
		return nil, ErrPlaintextOverflow
	}
	c, _, err := pk.PubKey.Encrypt(m)
	if err != nil {
		return nil, fmt.Errorf("dj: encrypt: %w", err)
	}
	return c, nil
}

func (pk *DJCryptosystem) Add(a, b Ciphertext) (Ciphertext, error) {
	ac, bc, err := djPair(a, b)
	if err != nil {
		return nil, err
	}
	sum, err := pk.PubKey.Add(ac, bc)
	if err != nil {
		return nil, fmt.Errorf("dj: add: %w", err)
	}
	return sum, nil
}

func (pk *DJCryptosystem) Eq(a, b Ciphertext) (Ciphertext, error) {
	return nil, fmt.Errorf("%w: equality under Damgård-Jurik", ErrUnsupportedOperation)
}

func (pk *DJCryptosystem) Select(cond, ifTrue, ifFalse Ciphertext) (Ciphertext, error) {
	return nil, fmt.Errorf("%w: select under Damgård-Jurik", ErrUnsupportedOperation)
}

func (pk *DJCryptosystem) MarshalCiphertext(ct Ciphertext) ([]byte, error) {
	c, ok := ct.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: expected *big.Int, got %T", ErrInvalidCiphertext, ct)
	}
	return c.Bytes(), nil
}

func (pk *DJCryptosystem) UnmarshalCiphertext(data []byte) (Ciphertext, error) {
	if len(data) == 0 {
		return nil, ErrInvalidCiphertext
	}
	return new(big.Int).SetBytes(data), nil
}

func (pk *DJCryptosystem) N() *big.Int {
	return pk.PubKey.N
}

func (pk *DJCryptosystem) CombinePartials(parts []PartialDecryption) (uint64, error) {
	shares := make([]*tcpaillier.DecryptionShare, len(parts))
	for i, p := range parts {
		ds, ok := p.(*tcpaillier.DecryptionShare)
		if !ok {
			return 0, fmt.Errorf("dj: unexpected partial decryption %T", p)
		}
		shares[i] = ds
	}
	plaintext, err := pk.CombineShares(shares...)
	if err != nil {
		return 0, fmt.Errorf("dj: combine shares: %w", err)
	}
	if !plaintext.IsUint64() {
		return 0, ErrPlaintextOverflow
	}
	return plaintext.Uint64(), nil
}

func (sk djKeyShare) PartialDecrypt(ciphertext Ciphertext) (PartialDecryption, error) {
	c, ok := ciphertext.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: expected *big.Int, got %T", ErrInvalidCiphertext, ciphertext)
	}
	return sk.KeyShare.PartialDecrypt(c)
}

func djPair(a, b Ciphertext) (*big.Int, *big.Int, error) {
	ac, ok := a.(*big.Int)
	if !ok {
		return nil, nil, fmt.Errorf("%w: expected *big.Int, got %T", ErrInvalidCiphertext, a)
	}
	bc, ok := b.(*big.Int)
	if !ok {
		return nil, nil, fmt.Errorf("%w: expected *big.Int, got %T", ErrInvalidCiphertext, b)
	}
	return ac, bc, nil
}
