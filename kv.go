package encprofile

import "encoding/json"

// KV is the persistent store behind the vault. Update runs fn in a single
// read-write transaction that commits only if fn returns nil.
type KV interface {
	View(fn func(Txn) error) error
	Update(fn func(Txn) error) error
	Close() error
}

// Txn is one transaction. Get returns nil, nil for a missing key.
type Txn interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	Iterate(prefix []byte, fn func(key, value []byte) error) error
}

const (
	prefixProfile   = "profile/"
	prefixAnalytics = "analytics/"
	prefixInsights  = "insights/"
	prefixAnalyst   = "analyst/"
	prefixDist      = "dist/"
	prefixACL       = "acl/"
	prefixCT        = "ct/"
	prefixDecrypt   = "decrypt/"
	prefixMeta      = "meta/"
)

func key(prefix string, id []byte) []byte {
	k := make([]byte, 0, len(prefix)+len(id))
	k = append(k, prefix...)
	return append(k, id...)
}

// getJSON decodes the record at k into v and reports whether it existed.
func getJSON(txn Txn, k []byte, v interface{}) (bool, error) {
	data, err := txn.Get(k)
	if err != nil || data == nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}

func setJSON(txn Txn, k []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(k, data)
}
