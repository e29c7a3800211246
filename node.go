package encprofile

import (
	"context"
	"fmt"

	"github.com/allegro/bigcache/v3"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Node is a fully wired vault: store, cryptosystem, oracle and
// notifications built from one Config.
type Node struct {
	Vault     *Vault
	Gateway   *Gateway
	Store     *BadgerStore
	Events    *Events
	Registry  *prometheus.Registry
	Committee *Committee
	logger    *zap.Logger
	cache     *bigcache.BigCache
}

func NewNode(ctx context.Context, cfg Config, logger *zap.Logger) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cs, committee, err := NewCryptosystem(cfg.Cryptosystem)
	if err != nil {
		return nil, err
	}
	logger.Info("cryptosystem ready",
		zap.String("backend", cfg.Cryptosystem.Backend),
		zap.Int("parties", len(committee.Shares)),
		zap.Stringer("plaintext_space", cs.N()))

	store, err := OpenBadger(cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	n := &Node{Store: store, Committee: committee, logger: logger}

	if cfg.Cache.Enabled {
		blobSize, err := NewExecutor(cs, nil, nil, cfg.SelfAddress(), logger).BlobSize()
		if err != nil {
			n.Close()
			return nil, err
		}
		if n.cache, err = NewCiphertextCache(ctx, cfg.Cache, blobSize); err != nil {
			n.Close()
			return nil, fmt.Errorf("ciphertext cache: %w", err)
		}
		logger.Debug("ciphertext cache ready", zap.Int("blob_size", blobSize))
	}

	if n.Gateway, err = NewGateway(committee, cfg.Oracle, logger); err != nil {
		n.Close()
		return nil, err
	}
	attesters, err := n.Gateway.SignerSet(cfg.Oracle.Threshold)
	if err != nil {
		n.Close()
		return nil, err
	}

	n.Registry = prometheus.NewRegistry()
	metrics, err := NewMetrics(n.Registry)
	if err != nil {
		n.Close()
		return nil, err
	}
	n.Events = NewEvents(logger)

	n.Vault, err = NewVault(store, cs, VaultConfig{
		Self:      cfg.SelfAddress(),
		Owner:     cfg.OwnerAddress(),
		Grants:    cfg.Grants,
		Attesters: attesters,
	},
		WithLogger(logger),
		WithMetrics(metrics),
		WithEvents(n.Events),
		WithOracle(n.Gateway),
		WithCache(n.cache),
	)
	if err != nil {
		n.Close()
		return nil, err
	}
	n.Gateway.Start(ctx)
	return n, nil
}

// Close stops the oracle after draining it and closes the store.
func (n *Node) Close() error {
	if n.Gateway != nil {
		n.Gateway.Stop()
	}
	if n.Events != nil {
		n.Events.WaitAsync()
	}
	if n.cache != nil {
		if err := n.cache.Close(); err != nil {
			n.logger.Warn("close cache", zap.Error(err))
		}
	}
	return n.Store.Close()
}
