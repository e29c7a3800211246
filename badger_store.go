package encprofile

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	badgerdb "github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"
)

// BadgerStore is the badger-backed KV.
type BadgerStore struct {
	db       *badgerdb.DB
	maxValue int64
	logger   *zap.Logger
}

// OpenBadger opens the store described by cfg. An empty path or
// cfg.InMemory selects an in-memory database.
func OpenBadger(cfg StoreConfig, logger *zap.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "store"))

	var opts badgerdb.Options
	if cfg.InMemory || cfg.Path == "" {
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
		opts.MemTableSize = 16 << 20
		logger.Info("opening in-memory badger store")
	} else {
		if err := os.MkdirAll(cfg.Path, 0700); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		opts = badgerdb.DefaultOptions(cfg.Path)
		opts.SyncWrites = cfg.SyncWrites
		logger.Info("opening badger store", zap.String("path", cfg.Path))
	}
	opts.BlockCacheSize = 32 << 20
	opts.IndexCacheSize = 16 << 20
	opts.NumMemtables = 2
	opts.Logger = badgerLogger{logger.Sugar()}

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db, maxValue: maxValueSize(opts), logger: logger}, nil
}

// maxValueSize is the largest value a single Set accepts. In-memory
// databases keep every value in the LSM tree and cap it at the value
// threshold.
func maxValueSize(opts badgerdb.Options) int64 {
	if opts.InMemory {
		return opts.ValueThreshold
	}
	return opts.ValueLogFileSize
}

// MaxValueSize reports the per-value limit of the store.
func (s *BadgerStore) MaxValueSize() int64 {
	return s.maxValue
}

func (s *BadgerStore) View(fn func(Txn) error) error {
	return s.db.View(func(txn *badgerdb.Txn) error {
		return fn(badgerTxn{txn: txn, maxValue: s.maxValue})
	})
}

func (s *BadgerStore) Update(fn func(Txn) error) error {
	return s.db.Update(func(txn *badgerdb.Txn) error {
		return fn(badgerTxn{txn: txn, maxValue: s.maxValue})
	})
}

func (s *BadgerStore) Close() error {
	s.logger.Info("closing badger store")
	return s.db.Close()
}

type badgerTxn struct {
	txn      *badgerdb.Txn
	maxValue int64
}

func (t badgerTxn) Get(key []byte) ([]byte, error) {
	item, err := t.txn.Get(key)
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

// Set checks the value limit before badger does. Errors name only the key
// prefix.
func (t badgerTxn) Set(key, value []byte) error {
	if int64(len(value)) > t.maxValue {
		return fmt.Errorf("set %s: %w: %d bytes, limit %d", keyPrefix(key), ErrValueTooLarge, len(value), t.maxValue)
	}
	if err := t.txn.Set(key, value); err != nil {
		return fmt.Errorf("set %s: %w", keyPrefix(key), err)
	}
	return nil
}

func keyPrefix(key []byte) string {
	if i := bytes.IndexByte(key, '/'); i >= 0 {
		return string(key[:i+1])
	}
	return "key"
}

func (t badgerTxn) Delete(key []byte) error {
	return t.txn.Delete(key)
}

func (t badgerTxn) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	it := t.txn.NewIterator(badgerdb.IteratorOptions{PrefetchValues: true, PrefetchSize: 64, Prefix: prefix})
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := fn(item.KeyCopy(nil), value); err != nil {
			return err
		}
	}
	return nil
}

// badgerLogger routes badger's internal logging onto zap.
type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.SugaredLogger.Errorf("[badger] "+format, args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.SugaredLogger.Warnf("[badger] "+format, args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.SugaredLogger.Debugf("[badger] "+format, args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.SugaredLogger.Debugf("[badger] "+format, args...)
}
