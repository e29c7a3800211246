package encprofile

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/allegro/bigcache/v3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/golang/snappy"
	"go.uber.org/zap"
)

// Executor maps handles to ciphertexts and enforces the ACL on every
// operand. All work happens inside a Session bound to one transaction.
type Executor struct {
	cs     Cryptosystem
	acl    *ACL
	cache  *bigcache.BigCache
	self   common.Address
	logger *zap.Logger
}

func NewExecutor(cs Cryptosystem, acl *ACL, cache *bigcache.BigCache, self common.Address, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		cs:     cs,
		acl:    acl,
		cache:  cache,
		self:   self,
		logger: logger.With(zap.String("component", "executor")),
	}
}

func (e *Executor) Cryptosystem() Cryptosystem {
	return e.cs
}

// BlobSize is the stored size of one ciphertext of the backend.
func (e *Executor) BlobSize() (int, error) {
	ct, err := e.cs.Encrypt(0)
	if err != nil {
		return 0, err
	}
	blob, err := e.encode(ct)
	if err != nil {
		return 0, err
	}
	return len(blob), nil
}

func (e *Executor) encode(ct Ciphertext) ([]byte, error) {
	data, err := e.cs.MarshalCiphertext(ct)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, data), nil
}

// Session is the execution context of a single operation. Handles it
// produces carry a transient grant for the session principal until they are
// granted persistently. Only granted handles are written to the store; the
// rest live and die with the session.
type Session struct {
	exec      *Executor
	txn       Txn
	principal common.Address
	transient map[Handle]struct{}
	local     map[Handle]Ciphertext
	fresh     map[Handle][]byte
}

func (e *Executor) Session(txn Txn, principal common.Address) *Session {
	return &Session{
		exec:      e,
		txn:       txn,
		principal: principal,
		transient: make(map[Handle]struct{}),
		local:     make(map[Handle]Ciphertext),
		fresh:     make(map[Handle][]byte),
	}
}

// Commit hands the blobs written in this session to the cache. Call it only
// after the transaction committed.
func (s *Session) Commit() {
	if s.exec.cache == nil {
		return
	}
	for h, blob := range s.fresh {
		if err := s.exec.cache.Set(string(h[:]), blob); err != nil {
			s.exec.logger.Warn("cache ciphertext", zap.Stringer("handle", h), zap.Error(err))
		}
	}
}

func (s *Session) Encrypt(v uint64, t ValueType) (Handle, error) {
	if v > t.MaxValue() || !fits(s.exec.cs, v) {
		return Handle{}, fmt.Errorf("%w: %d as %s", ErrPlaintextOverflow, v, t)
	}
	ct, err := s.exec.cs.Encrypt(v)
	if err != nil {
		return Handle{}, err
	}
	return s.store("encrypt", t, ct)
}

func (s *Session) Eq(a, b Handle) (Handle, error) {
	cts, err := s.operands(a, b)
	if err != nil {
		return Handle{}, err
	}
	res, err := s.exec.cs.Eq(cts[0], cts[1])
	if err != nil {
		return Handle{}, fmt.Errorf("eq: %w", err)
	}
	return s.store("eq", TypeBool, res, a, b)
}

func (s *Session) Select(cond, ifTrue, ifFalse Handle) (Handle, error) {
	if cond.Type() != TypeBool {
		return Handle{}, fmt.Errorf("select: condition is %s", cond.Type())
	}
	cts, err := s.operands(cond, ifTrue, ifFalse)
	if err != nil {
		return Handle{}, err
	}
	res, err := s.exec.cs.Select(cts[0], cts[1], cts[2])
	if err != nil {
		return Handle{}, fmt.Errorf("select: %w", err)
	}
	return s.store("select", widest(ifTrue.Type(), ifFalse.Type()), res, cond, ifTrue, ifFalse)
}

func (s *Session) Add(a, b Handle) (Handle, error) {
	cts, err := s.operands(a, b)
	if err != nil {
		return Handle{}, err
	}
	res, err := s.exec.cs.Add(cts[0], cts[1])
	if err != nil {
		return Handle{}, fmt.Errorf("add: %w", err)
	}
	return s.store("add", widest(a.Type(), b.Type()), res, a, b)
}

// Allow grants p persistent use of h. The session must itself be allowed h.
func (s *Session) Allow(h Handle, p common.Address) error {
	if err := s.check(h); err != nil {
		return err
	}
	if err := s.persist(h); err != nil {
		return err
	}
	return s.exec.acl.grant(s.txn, h, p)
}

// AllowThis grants the vault process persistent use of h.
func (s *Session) AllowThis(h Handle) error {
	return s.Allow(h, s.exec.self)
}

func (s *Session) IsAllowed(h Handle, p common.Address) (bool, error) {
	if _, ok := s.transient[h]; ok && p == s.principal {
		return true, nil
	}
	return s.exec.acl.allowed(s.txn, h, p)
}

// Ciphertext loads h for decryption or re-encryption.
func (s *Session) Ciphertext(h Handle) (Ciphertext, error) {
	if err := s.check(h); err != nil {
		return nil, err
	}
	return s.load(h)
}

func (s *Session) check(h Handle) error {
	ok, err := s.IsAllowed(h, s.principal)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s for %s", ErrNotAllowed, h, s.principal.Hex())
	}
	return nil
}

func (s *Session) operands(hs ...Handle) ([]Ciphertext, error) {
	cts := make([]Ciphertext, len(hs))
	for i, h := range hs {
		if err := s.check(h); err != nil {
			return nil, err
		}
		ct, err := s.load(h)
		if err != nil {
			return nil, err
		}
		cts[i] = ct
	}
	return cts, nil
}

func (s *Session) load(h Handle) (Ciphertext, error) {
	if ct, ok := s.local[h]; ok {
		return ct, nil
	}
	var blob []byte
	if s.exec.cache != nil {
		if cached, err := s.exec.cache.Get(string(h[:])); err == nil {
			blob = cached
		} else if !errors.Is(err, bigcache.ErrEntryNotFound) {
			s.exec.logger.Warn("cache lookup", zap.Stringer("handle", h), zap.Error(err))
		}
	}
	if blob == nil {
		stored, err := s.txn.Get(key(prefixCT, h[:]))
		if err != nil {
			return nil, err
		}
		if stored == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownHandle, h)
		}
		blob = stored
	}
	data, err := snappy.Decode(nil, blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	return s.exec.cs.UnmarshalCiphertext(data)
}

func (s *Session) store(op string, t ValueType, ct Ciphertext, operands ...Handle) (Handle, error) {
	nonce, err := s.nextNonce()
	if err != nil {
		return Handle{}, err
	}
	h := deriveHandle(op, t, nonce, operands...)
	s.transient[h] = struct{}{}
	s.local[h] = ct
	return h, nil
}

// persist writes a session-local ciphertext to the store on its first grant.
func (s *Session) persist(h Handle) error {
	ct, ok := s.local[h]
	if _, written := s.fresh[h]; !ok || written {
		return nil
	}
	blob, err := s.exec.encode(ct)
	if err != nil {
		return err
	}
	if err := s.txn.Set(key(prefixCT, h[:]), blob); err != nil {
		return err
	}
	s.fresh[h] = blob
	return nil
}

var nonceKey = []byte(prefixMeta + "nonce")

func (s *Session) nextNonce() (uint64, error) {
	var nonce uint64
	data, err := s.txn.Get(nonceKey)
	if err != nil {
		return 0, err
	}
	if len(data) == 8 {
		nonce = binary.BigEndian.Uint64(data)
	}
	nonce++
	return nonce, s.txn.Set(nonceKey, binary.BigEndian.AppendUint64(nil, nonce))
}

func widest(a, b ValueType) ValueType {
	if a > b {
		return a
	}
	return b
}
