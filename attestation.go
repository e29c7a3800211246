package encprofile

import (
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Attestation is one oracle signer's signature over a decryption result.
type Attestation struct {
	Signer    common.Address `json:"signer"`
	Signature []byte         `json:"signature"`
}

// AttestationDigest binds a request, its handles and the cleartexts.
func AttestationDigest(id RequestID, handles []Handle, values []uint64) common.Hash {
	data := make([]byte, 0, len(id)+32*len(handles)+8*len(values))
	data = append(data, id[:]...)
	for _, h := range handles {
		data = append(data, h[:]...)
	}
	for _, v := range values {
		data = binary.BigEndian.AppendUint64(data, v)
	}
	return crypto.Keccak256Hash(data)
}

func Attest(key *ecdsa.PrivateKey, digest common.Hash) (Attestation, error) {
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return Attestation{}, err
	}
	return Attestation{Signer: crypto.PubkeyToAddress(key.PublicKey), Signature: sig}, nil
}

// SignerSet is the trusted oracle committee and how many distinct members
// must sign a result.
type SignerSet struct {
	signers   map[common.Address]struct{}
	threshold int
}

func NewSignerSet(threshold int, signers ...common.Address) (*SignerSet, error) {
	set := &SignerSet{signers: make(map[common.Address]struct{}, len(signers)), threshold: threshold}
	for _, s := range signers {
		set.signers[s] = struct{}{}
	}
	if threshold < 1 || threshold > len(set.signers) {
		return nil, fmt.Errorf("signer threshold %d outside [1, %d]", threshold, len(set.signers))
	}
	return set, nil
}

func (s *SignerSet) Threshold() int {
	return s.threshold
}

// Verify checks that at least threshold distinct known signers signed
// digest. Attestations from unknown signers or with bad signatures are
// rejected outright.
func (s *SignerSet) Verify(digest common.Hash, atts []Attestation) error {
	seen := make(map[common.Address]struct{}, len(atts))
	for _, att := range atts {
		if _, ok := s.signers[att.Signer]; !ok {
			return fmt.Errorf("%w: unknown signer %s", ErrInvalidAttestation, att.Signer.Hex())
		}
		pub, err := crypto.SigToPub(digest.Bytes(), att.Signature)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAttestation, err)
		}
		if crypto.PubkeyToAddress(*pub) != att.Signer {
			return fmt.Errorf("%w: signature does not match %s", ErrInvalidAttestation, att.Signer.Hex())
		}
		seen[att.Signer] = struct{}{}
	}
	if len(seen) < s.threshold {
		return fmt.Errorf("%w: %d of %d required signers", ErrInvalidAttestation, len(seen), s.threshold)
	}
	return nil
}
