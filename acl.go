package encprofile

import (
	"github.com/ethereum/go-ethereum/common"
)

// ACL is the access registry for handles. A grant lives under
// acl/<handle><principal> and is never revoked.
type ACL struct {
	kv KV
}

func NewACL(kv KV) *ACL {
	return &ACL{kv: kv}
}

func aclKey(h Handle, p common.Address) []byte {
	k := make([]byte, 0, len(prefixACL)+len(h)+common.AddressLength)
	k = append(k, prefixACL...)
	k = append(k, h[:]...)
	return append(k, p.Bytes()...)
}

func (a *ACL) allowed(txn Txn, h Handle, p common.Address) (bool, error) {
	v, err := txn.Get(aclKey(h, p))
	if err != nil {
		return false, err
	}
	return v != nil, nil
}

func (a *ACL) grant(txn Txn, h Handle, p common.Address) error {
	return txn.Set(aclKey(h, p), []byte{1})
}

// IsAllowed reports whether p holds a persistent grant on h.
func (a *ACL) IsAllowed(h Handle, p common.Address) (bool, error) {
	var ok bool
	err := a.kv.View(func(txn Txn) error {
		var err error
		ok, err = a.allowed(txn, h, p)
		return err
	})
	return ok, err
}

// Principals lists every principal granted on h.
func (a *ACL) Principals(h Handle) ([]common.Address, error) {
	prefix := key(prefixACL, h[:])
	var out []common.Address
	err := a.kv.View(func(txn Txn) error {
		return txn.Iterate(prefix, func(k, _ []byte) error {
			out = append(out, common.BytesToAddress(k[len(prefix):]))
			return nil
		})
	})
	return out, err
}
