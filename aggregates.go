package encprofile

import (
	"sync"
)

const (
	AgeBuckets      = MaxAgeRange + 1
	IncomeBuckets   = MaxIncomeLevel + 1
	SpendingBuckets = MaxSpendingPattern + 1
)

// Histograms counts profiles per bucket. Each histogram sums to TotalUsers.
type Histograms struct {
	Age        [AgeBuckets]uint64      `json:"age"`
	Income     [IncomeBuckets]uint64   `json:"income"`
	Spending   [SpendingBuckets]uint64 `json:"spending"`
	TotalUsers uint64                  `json:"totalUsers"`
}

var distKey = []byte(prefixDist + "histograms")

// Distributions tracks the plaintext aggregates. Counters only grow, and
// only from creation-time input.
type Distributions struct {
	mu   sync.RWMutex
	hist Histograms
}

func NewDistributions() *Distributions {
	return &Distributions{}
}

// LoadDistributions reads the persisted snapshot.
func LoadDistributions(kv KV) (*Distributions, error) {
	d := NewDistributions()
	err := kv.View(func(txn Txn) error {
		_, err := getJSON(txn, distKey, &d.hist)
		return err
	})
	return d, err
}

// record writes the incremented snapshot inside txn. The returned function
// publishes it in memory and must run only once txn committed.
func (d *Distributions) record(txn Txn, in ProfileInput) (func(), error) {
	var next Histograms
	found, err := getJSON(txn, distKey, &next)
	if err != nil {
		return nil, err
	}
	if !found {
		next = d.Snapshot()
	}
	next.Age[in.AgeRange]++
	next.Income[in.IncomeLevel]++
	next.Spending[in.SpendingPattern]++
	next.TotalUsers++
	if err := setJSON(txn, distKey, &next); err != nil {
		return nil, err
	}
	return func() {
		d.mu.Lock()
		d.hist = next
		d.mu.Unlock()
	}, nil
}

func (d *Distributions) Snapshot() Histograms {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.hist
}

func (d *Distributions) TotalUsers() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.hist.TotalUsers
}

func (v *Vault) Distributions() Histograms {
	return v.dist.Snapshot()
}

func (v *Vault) TotalUsers() uint64 {
	return v.dist.TotalUsers()
}
