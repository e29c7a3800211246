package encprofile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// VaultConfig holds the principals and policies of a vault.
type VaultConfig struct {
	Self   common.Address
	Owner  common.Address
	Grants GrantPolicy
	// Attesters verifies decryption callbacks. Callbacks are rejected while
	// it is nil.
	Attesters *SignerSet
}

// Vault is the confidential profile store. Every mutating operation runs
// under one lock and one KV transaction, so it either commits completely or
// leaves no trace.
type Vault struct {
	mu      sync.RWMutex
	kv      KV
	acl     *ACL
	exec    *Executor
	dist    *Distributions
	cfg     VaultConfig
	oracle  DecryptionOracle
	events  *Events
	metrics *Metrics
	cache   *bigcache.BigCache
	logger  *zap.Logger
	now     func() time.Time
}

type Option func(*Vault)

func WithLogger(logger *zap.Logger) Option {
	return func(v *Vault) { v.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(v *Vault) { v.now = now }
}

func WithMetrics(m *Metrics) Option {
	return func(v *Vault) { v.metrics = m }
}

func WithOracle(o DecryptionOracle) Option {
	return func(v *Vault) { v.oracle = o }
}

func WithEvents(e *Events) Option {
	return func(v *Vault) { v.events = e }
}

func WithCache(c *bigcache.BigCache) Option {
	return func(v *Vault) { v.cache = c }
}

// WithDistributions injects the aggregate tracker. By default it is loaded
// from the store.
func WithDistributions(d *Distributions) Option {
	return func(v *Vault) { v.dist = d }
}

func NewVault(kv KV, cs Cryptosystem, cfg VaultConfig, opts ...Option) (*Vault, error) {
	if cfg.Self == cfg.Owner {
		return nil, fmt.Errorf("vault principal and owner must differ")
	}
	v := &Vault{
		kv:     kv,
		acl:    NewACL(kv),
		cfg:    cfg,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = v.logger.With(zap.String("component", "vault"))
	v.exec = NewExecutor(cs, v.acl, v.cache, cfg.Self, v.logger)

	if v.dist == nil {
		dist, err := LoadDistributions(kv)
		if err != nil {
			return nil, err
		}
		v.dist = dist
	}
	if v.metrics != nil {
		pending, err := v.countPending()
		if err != nil {
			return nil, err
		}
		v.metrics.setPending(pending)
	}
	return v, nil
}

func (v *Vault) Owner() common.Address {
	return v.cfg.Owner
}

func (v *Vault) Self() common.Address {
	return v.cfg.Self
}

func (v *Vault) ACL() *ACL {
	return v.acl
}

// opTx is the state of one mutating operation.
type opTx struct {
	txn       Txn
	vault     *Vault
	sessions  []*Session
	committed []func()
	after     []func()
}

// session opens an executor session acting as the vault itself.
func (tx *opTx) session() *Session {
	s := tx.vault.exec.Session(tx.txn, tx.vault.cfg.Self)
	tx.sessions = append(tx.sessions, s)
	return s
}

// onCommit runs fn after the commit while the vault lock is still held.
// fn must not call back into the vault.
func (tx *opTx) onCommit(fn func()) {
	tx.committed = append(tx.committed, fn)
}

// afterCommit runs fn once the lock is released.
func (tx *opTx) afterCommit(fn func()) {
	tx.after = append(tx.after, fn)
}

func (tx *opTx) publish(topic string, payload interface{}) {
	tx.afterCommit(func() { tx.vault.events.publish(topic, payload) })
}

func (v *Vault) execute(ctx context.Context, op string, fn func(tx *opTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	v.mu.Lock()
	tx := &opTx{vault: v}
	err := v.kv.Update(func(txn Txn) error {
		tx.txn = txn
		return fn(tx)
	})
	if err == nil {
		for _, s := range tx.sessions {
			s.Commit()
		}
		for _, fn := range tx.committed {
			fn()
		}
	}
	v.mu.Unlock()
	v.metrics.observe(op, start, err)
	if err != nil {
		v.logger.Debug("operation rejected", zap.String("op", op), zap.Error(err))
		return err
	}
	for _, fn := range tx.after {
		fn()
	}
	return nil
}

func (v *Vault) view(fn func(txn Txn) error) error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.kv.View(fn)
}

func (v *Vault) isAnalystOrOwner(txn Txn, caller common.Address) (bool, error) {
	if caller == v.cfg.Owner {
		return true, nil
	}
	return isAnalyst(txn, caller)
}

func (v *Vault) requireAnalystOrOwner(txn Txn, caller common.Address) error {
	ok, err := v.isAnalystOrOwner(txn, caller)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s is neither owner nor analyst", ErrUnauthorized, caller.Hex())
	}
	return nil
}

// activeProfile loads the active profile of identity or fails with
// ErrProfileNotFound.
func activeProfile(txn Txn, identity common.Address) (*UserProfile, error) {
	var p UserProfile
	found, err := getJSON(txn, profileKey(identity), &p)
	if err != nil {
		return nil, err
	}
	if !found || !p.Active {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, identity.Hex())
	}
	return &p, nil
}

func notification(subject common.Address, at time.Time) Notification {
	return Notification{Subject: subject, At: at}
}
