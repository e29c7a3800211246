package encprofile

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/crypto/ecies"
	"go.uber.org/zap"
)

var ErrQueueFull = errors.New("decryption queue full")

// Gateway is the in-process decryption oracle. It holds the committee's key
// shares, runs one goroutine per share, and signs every result with each of
// its signer keys.
type Gateway struct {
	committee *Committee
	signers   []*ecdsa.PrivateKey
	jobs      chan DecryptionJob
	workers   int
	timeout   time.Duration
	logger    *zap.Logger

	mu         sync.RWMutex
	stopped    bool
	runCtx     context.Context
	cancel     context.CancelFunc
	shareChans []chan partialRequest
	jobWG      sync.WaitGroup
	shareWG    sync.WaitGroup
}

// NewGateway creates cfg.Signers fresh signing keys for the committee.
func NewGateway(committee *Committee, cfg OracleConfig, logger *zap.Logger) (*Gateway, error) {
	if committee == nil || len(committee.Shares) == 0 {
		return nil, errors.New("gateway: empty committee")
	}
	if cfg.Workers < 1 || cfg.QueueSize < 1 || cfg.Signers < 1 {
		return nil, fmt.Errorf("gateway: invalid config %+v", cfg)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gateway{
		committee: committee,
		jobs:      make(chan DecryptionJob, cfg.QueueSize),
		workers:   cfg.Workers,
		timeout:   cfg.Timeout,
		logger:    logger.With(zap.String("component", "gateway")),
	}
	for i := 0; i < cfg.Signers; i++ {
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("gateway: signer key: %w", err)
		}
		g.signers = append(g.signers, key)
	}
	return g, nil
}

func (g *Gateway) Signers() []common.Address {
	out := make([]common.Address, len(g.signers))
	for i, key := range g.signers {
		out[i] = crypto.PubkeyToAddress(key.PublicKey)
	}
	return out
}

// SignerSet returns a verifier trusting this gateway's signers.
func (g *Gateway) SignerSet(threshold int) (*SignerSet, error) {
	return NewSignerSet(threshold, g.Signers()...)
}

// Start launches the share workers and the job workers. Jobs submitted
// before Start are processed once it runs.
func (g *Gateway) Start(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.runCtx != nil || g.stopped {
		return
	}
	g.runCtx, g.cancel = context.WithCancel(ctx)

	g.shareChans = make([]chan partialRequest, len(g.committee.Shares))
	for i, ks := range g.committee.Shares {
		g.shareChans[i] = make(chan partialRequest)
		g.shareWG.Add(1)
		go func(i int, ks KeyShare) {
			defer g.shareWG.Done()
			ShareWorker(g.runCtx, i, ks, g.shareChans[i])
		}(i, ks)
	}
	for i := 0; i < g.workers; i++ {
		g.jobWG.Add(1)
		go func() {
			defer g.jobWG.Done()
			for job := range g.jobs {
				g.process(job)
			}
		}()
	}
	g.logger.Info("gateway started", zap.Int("shares", len(g.shareChans)), zap.Int("workers", g.workers))
}

// Stop refuses new jobs, finishes queued ones and shuts the workers down.
// A gateway that never started fails its queued jobs with ErrOracleStopped.
func (g *Gateway) Stop() {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return
	}
	g.stopped = true
	close(g.jobs)
	started := g.runCtx != nil
	g.mu.Unlock()

	if !started {
		for job := range g.jobs {
			g.logger.Warn("dropping queued decryption", zap.Stringer("request", job.RequestID))
			if job.Fail != nil {
				job.Fail(context.Background(), ErrOracleStopped)
			}
		}
		return
	}
	g.jobWG.Wait()
	g.cancel()
	g.shareWG.Wait()
	g.logger.Info("gateway stopped")
}

func (g *Gateway) Submit(job DecryptionJob) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.stopped {
		return ErrOracleStopped
	}
	select {
	case g.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

func (g *Gateway) running() (context.Context, []chan partialRequest, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.runCtx == nil {
		return nil, nil, errors.New("gateway not started")
	}
	if err := g.runCtx.Err(); err != nil {
		return nil, nil, ErrOracleStopped
	}
	return g.runCtx, g.shareChans, nil
}

func (g *Gateway) process(job DecryptionJob) {
	ctx := g.runCtx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	logger := g.logger.With(zap.Stringer("request", job.RequestID))

	values, err := g.DecryptAll(ctx, job.Ciphertexts)
	if err != nil {
		logger.Warn("decryption failed", zap.Error(err))
		job.Fail(context.WithoutCancel(ctx), err)
		return
	}
	atts, err := g.attest(AttestationDigest(job.RequestID, job.Handles, values))
	if err != nil {
		logger.Error("attestation failed", zap.Error(err))
		job.Fail(context.WithoutCancel(ctx), err)
		return
	}
	if err := job.Deliver(ctx, values, atts); err != nil {
		logger.Error("callback rejected result", zap.Error(err))
		return
	}
	logger.Debug("decryption delivered")
}

func (g *Gateway) attest(digest common.Hash) ([]Attestation, error) {
	atts := make([]Attestation, len(g.signers))
	for i, key := range g.signers {
		att, err := Attest(key, digest)
		if err != nil {
			return nil, err
		}
		atts[i] = att
	}
	return atts, nil
}

// Reencrypt decrypts ct and seals the value to pub with ECIES. The
// plaintext is an 8-byte big-endian integer.
func (g *Gateway) Reencrypt(ctx context.Context, ct Ciphertext, pub *ecdsa.PublicKey) ([]byte, error) {
	v, err := g.Decrypt(ctx, ct)
	if err != nil {
		return nil, err
	}
	msg := binary.BigEndian.AppendUint64(nil, v)
	return ecies.Encrypt(rand.Reader, ecies.ImportECDSAPublic(pub), msg, nil, nil)
}

// OpenReencrypted is the user side of Reencrypt.
func OpenReencrypted(key *ecdsa.PrivateKey, sealed []byte) (uint64, error) {
	msg, err := ecies.ImportECDSA(key).Decrypt(sealed, nil, nil)
	if err != nil {
		return 0, err
	}
	if len(msg) != 8 {
		return 0, fmt.Errorf("reencrypted value: expected 8 bytes, got %d", len(msg))
	}
	return binary.BigEndian.Uint64(msg), nil
}
