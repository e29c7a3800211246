package encprofile

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type RequestID = uuid.UUID

type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusFulfilled RequestStatus = "fulfilled"
	StatusFailed    RequestStatus = "failed"
)

// DecryptionRequest records one batch decryption of a profile. It never
// holds plaintext.
type DecryptionRequest struct {
	ID         RequestID      `json:"id"`
	Subject    common.Address `json:"subject"`
	Requester  common.Address `json:"requester"`
	Handles    [6]Handle      `json:"handles"`
	Status     RequestStatus  `json:"status"`
	CreatedAt  time.Time      `json:"createdAt"`
	ResolvedAt time.Time      `json:"resolvedAt,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// ProfileValues are the cleartexts delivered to OnProfileDecrypted.
type ProfileValues struct {
	AgeRange        uint8
	IncomeLevel     uint8
	SpendingPattern uint8
	RiskTolerance   uint8
	DigitalActivity uint8
	LocationCluster uint8
}

func (pv ProfileValues) Slice() []uint64 {
	return []uint64{
		uint64(pv.AgeRange), uint64(pv.IncomeLevel), uint64(pv.SpendingPattern),
		uint64(pv.RiskTolerance), uint64(pv.DigitalActivity), uint64(pv.LocationCluster),
	}
}

func (pv ProfileValues) validate() error {
	return ProfileInput(pv).validate()
}

// ProfileValuesFrom converts oracle output in field order.
func ProfileValuesFrom(values []uint64) (ProfileValues, error) {
	if len(values) != 6 {
		return ProfileValues{}, fmt.Errorf("expected 6 values, got %d", len(values))
	}
	var in [6]uint8
	for i, v := range values {
		if v > 0xff {
			return ProfileValues{}, &RangeError{Field: fmt.Sprintf("field %d", i), Value: v, Max: 0xff}
		}
		in[i] = uint8(v)
	}
	return ProfileValues{in[0], in[1], in[2], in[3], in[4], in[5]}, nil
}

// DecryptionJob is handed to the oracle after the request committed.
// Exactly one of Deliver or Fail is called.
type DecryptionJob struct {
	RequestID   RequestID
	Handles     []Handle
	Ciphertexts []Ciphertext
	Deliver     func(ctx context.Context, values []uint64, atts []Attestation) error
	Fail        func(ctx context.Context, err error)
}

// DecryptionOracle is the asynchronous decryption capability.
type DecryptionOracle interface {
	Submit(job DecryptionJob) error
	Reencrypt(ctx context.Context, ct Ciphertext, pub *ecdsa.PublicKey) ([]byte, error)
}

func decryptKey(id RequestID) []byte {
	return key(prefixDecrypt, id[:])
}

// RequestProfileDecryption records a request for identity's six fields and
// submits it to the oracle. It does not wait for the result.
func (v *Vault) RequestProfileDecryption(ctx context.Context, caller, identity common.Address) (RequestID, error) {
	id := uuid.New()
	err := v.execute(ctx, "request_decryption", func(tx *opTx) error {
		if err := v.requireAnalystOrOwner(tx.txn, caller); err != nil {
			return err
		}
		p, err := activeProfile(tx.txn, identity)
		if err != nil {
			return err
		}
		if v.oracle == nil {
			return ErrNoOracle
		}

		s := tx.session()
		handles := p.Fields()
		cts := make([]Ciphertext, len(handles))
		for i, h := range handles {
			if cts[i], err = s.Ciphertext(h); err != nil {
				return err
			}
		}

		now := v.now()
		req := DecryptionRequest{
			ID:        id,
			Subject:   identity,
			Requester: caller,
			Handles:   handles,
			Status:    StatusPending,
			CreatedAt: now,
		}
		if err := setJSON(tx.txn, decryptKey(id), &req); err != nil {
			return err
		}

		job := DecryptionJob{
			RequestID:   id,
			Handles:     handles[:],
			Ciphertexts: cts,
			Deliver: func(ctx context.Context, values []uint64, atts []Attestation) error {
				pv, err := ProfileValuesFrom(values)
				if err != nil {
					return err
				}
				return v.OnProfileDecrypted(ctx, id, pv, atts)
			},
			Fail: func(ctx context.Context, cause error) {
				if err := v.failRequest(ctx, id, cause); err != nil {
					v.logger.Error("mark decryption failed", zap.Stringer("request", id), zap.Error(err))
				}
			},
		}
		tx.afterCommit(func() {
			v.metrics.addPending(1)
			v.logger.Info("decryption requested", zap.Stringer("request", id), zap.String("subject", identity.Hex()))
		})
		tx.publish(TopicDecryptionRequested, DecryptionRequested{
			Notification: notification(identity, now),
			RequestID:    id,
			Requester:    caller,
		})
		tx.afterCommit(func() {
			if err := v.oracle.Submit(job); err != nil {
				v.logger.Warn("submit decryption job", zap.Stringer("request", id), zap.Error(err))
				job.Fail(context.Background(), err)
			}
		})
		return nil
	})
	if err != nil {
		return RequestID{}, err
	}
	return id, nil
}

// OnProfileDecrypted is the oracle callback. Repeated delivery of a
// fulfilled request is a no-op. Anything unverified leaves the request
// pending.
func (v *Vault) OnProfileDecrypted(ctx context.Context, id RequestID, values ProfileValues, atts []Attestation) error {
	return v.execute(ctx, "on_profile_decrypted", func(tx *opTx) error {
		var req DecryptionRequest
		found, err := getJSON(tx.txn, decryptKey(id), &req)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s", ErrUnknownRequest, id)
		}
		switch req.Status {
		case StatusFulfilled:
			v.logger.Debug("duplicate decryption callback", zap.Stringer("request", id))
			return nil
		case StatusFailed:
			return fmt.Errorf("%w: %s already failed", ErrUnknownRequest, id)
		}

		if v.cfg.Attesters == nil {
			return fmt.Errorf("%w: no signer set configured", ErrInvalidAttestation)
		}
		digest := AttestationDigest(id, req.Handles[:], values.Slice())
		if err := v.cfg.Attesters.Verify(digest, atts); err != nil {
			return err
		}
		if err := values.validate(); err != nil {
			return err
		}

		now := v.now()
		req.Status = StatusFulfilled
		req.ResolvedAt = now
		if err := setJSON(tx.txn, decryptKey(id), &req); err != nil {
			return err
		}
		tx.afterCommit(func() { v.metrics.addPending(-1) })
		tx.publish(TopicProfileDecrypted, ProfileDecrypted{
			Notification: notification(req.Subject, now),
			RequestID:    id,
			Values:       values,
		})
		return nil
	})
}

func (v *Vault) failRequest(ctx context.Context, id RequestID, cause error) error {
	return v.execute(ctx, "fail_decryption", func(tx *opTx) error {
		var req DecryptionRequest
		found, err := getJSON(tx.txn, decryptKey(id), &req)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s", ErrUnknownRequest, id)
		}
		if req.Status != StatusPending {
			return nil
		}
		req.Status = StatusFailed
		req.ResolvedAt = v.now()
		req.Error = cause.Error()
		tx.afterCommit(func() { v.metrics.addPending(-1) })
		return setJSON(tx.txn, decryptKey(id), &req)
	})
}

func (v *Vault) DecryptionRequestStatus(id RequestID) (DecryptionRequest, error) {
	var req DecryptionRequest
	err := v.view(func(txn Txn) error {
		found, err := getJSON(txn, decryptKey(id), &req)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s", ErrUnknownRequest, id)
		}
		return nil
	})
	return req, err
}

func (v *Vault) countPending() (int, error) {
	n := 0
	err := v.kv.View(func(txn Txn) error {
		return txn.Iterate([]byte(prefixDecrypt), func(_, value []byte) error {
			var req DecryptionRequest
			if err := json.Unmarshal(value, &req); err != nil {
				return err
			}
			if req.Status == StatusPending {
				n++
			}
			return nil
		})
	})
	return n, err
}

// ReencryptRequest asks for one handle to be re-encrypted under PublicKey.
// Signature is the user's signature over ReencryptDigest.
type ReencryptRequest struct {
	User      common.Address
	PublicKey []byte
	Handle    Handle
	Signature []byte
}

func ReencryptDigest(pub []byte, h Handle) common.Hash {
	return crypto.Keccak256Hash(pub, h[:])
}

// ReencryptForUser returns the value behind req.Handle encrypted to the
// user's key. The user must hold a grant on the handle.
func (v *Vault) ReencryptForUser(ctx context.Context, req ReencryptRequest) (out []byte, err error) {
	start := time.Now()
	defer func() { v.metrics.observe("reencrypt", start, err) }()

	if v.oracle == nil {
		return nil, ErrNoOracle
	}
	signer, err := crypto.SigToPub(ReencryptDigest(req.PublicKey, req.Handle).Bytes(), req.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if crypto.PubkeyToAddress(*signer) != req.User {
		return nil, ErrInvalidSignature
	}
	pub, err := crypto.UnmarshalPubkey(req.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	var ct Ciphertext
	err = v.view(func(txn Txn) error {
		var err error
		ct, err = v.exec.Session(txn, req.User).Ciphertext(req.Handle)
		return err
	})
	if err != nil {
		return nil, err
	}
	return v.oracle.Reencrypt(ctx, ct, pub)
}
