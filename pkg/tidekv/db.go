package tidekv

import (
	"iter"
	"log/slog"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/tidekv/internal/storage/journal"
	"github.com/yndnr/tidekv/internal/storage/table"
	"github.com/yndnr/tidekv/internal/telemetry/metric"
)

// DB is a key-value store kept in memory and persisted to an append-only
// file that several goroutines and processes may share.
//
// Reads are served from memory. Writes update memory immediately and are
// appended to the file by a background writer; Flush waits for them. Load
// picks up records other processes appended since the last load.
type DB[V any] struct {
	path    string
	journal *journal.Journal
	table   *table.Table[V]
	opts    options[V]
	logger  *slog.Logger

	// mu serializes Lock, Synchronize, Compact and Clear in this process.
	mu sync.Mutex
	// wmu orders table mutations with the records queued for them.
	wmu sync.Mutex

	collector *metric.Collector
	regID     uint64
	autoSync  *autoSync

	closeOnce sync.Once
	closeErr  error
}

// Open opens or creates the store at path and loads its records.
func Open[V any](path string, opts ...Option[V]) (*DB[V], error) {
	o := defaultOptions[V]()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	db := &DB[V]{
		path:   path,
		table:  table.New[V](),
		opts:   o,
		logger: o.logger,
	}

	j, err := journal.Open(journal.Config{
		Path:     path,
		Format:   o.format,
		FileMode: o.fileMode,
		Replay:   db.replay,
		Logger:   o.logger,
		Metrics:  metric.NewJournalMetrics(o.registerer),
	})
	if err != nil {
		return nil, err
	}
	db.journal = j

	if o.registerer != nil {
		c := metric.NewCollector(db.stats, prometheus.Labels{"path": path})
		if err := o.registerer.Register(c); err != nil {
			db.logger.Warn("store metrics not registered", "path", path, "error", err)
		} else {
			db.collector = c
		}
	}

	if o.autoSync > 0 {
		s, err := startAutoSync(db, o.autoSync, o.syncHook)
		if err != nil {
			db.unregisterMetrics()
			j.Close()
			return nil, err
		}
		db.autoSync = s
	}

	if o.registry != nil {
		db.regID = o.registry.Register(path, db)
	}

	db.logger.Debug("store opened",
		"path", path,
		"keys", db.table.Len(),
		"records", j.LogSize())
	return db, nil
}

// Path returns the file path.
func (db *DB[V]) Path() string {
	return db.path
}

// Get returns the value stored under key. On a miss it returns ErrNotFound,
// unless a default is configured, in which case the default is stored and
// returned.
func (db *DB[V]) Get(key string) (V, error) {
	var zero V
	k, err := db.opts.keyCodec.NormalizeKey(key)
	if err != nil {
		return zero, err
	}
	if v, ok := db.table.Get(k); ok {
		return v, nil
	}
	if db.opts.defaultFunc == nil {
		return zero, ErrNotFound
	}

	db.wmu.Lock()
	defer db.wmu.Unlock()
	v := db.opts.defaultFunc(k)
	data, err := db.encode(k, v)
	if err != nil {
		return zero, err
	}
	cur, stored := db.table.SetIfAbsent(k, v)
	if !stored {
		return cur, nil
	}
	if err := db.journal.Push(journal.Put(k, data)); err != nil {
		db.table.Delete(k)
		return zero, err
	}
	return v, nil
}

// Has reports whether key is present. Defaults are not applied.
func (db *DB[V]) Has(key string) bool {
	k, err := db.opts.keyCodec.NormalizeKey(key)
	if err != nil {
		return false
	}
	return db.table.Has(k)
}

// Set stores v under key.
func (db *DB[V]) Set(key string, v V) error {
	k, err := db.opts.keyCodec.NormalizeKey(key)
	if err != nil {
		return err
	}
	db.wmu.Lock()
	defer db.wmu.Unlock()
	return db.put(k, v)
}

// SetSync stores v under key and waits until it is on disk.
func (db *DB[V]) SetSync(key string, v V) error {
	if err := db.Set(key, v); err != nil {
		return err
	}
	return db.Flush()
}

// Delete removes key.
func (db *DB[V]) Delete(key string) error {
	k, err := db.opts.keyCodec.NormalizeKey(key)
	if err != nil {
		return err
	}
	db.wmu.Lock()
	defer db.wmu.Unlock()
	if err := db.journal.Push(journal.Delete(k)); err != nil {
		return err
	}
	db.table.Delete(k)
	return nil
}

// DeleteSync removes key and waits until the deletion is on disk.
func (db *DB[V]) DeleteSync(key string) error {
	if err := db.Delete(key); err != nil {
		return err
	}
	return db.Flush()
}

// Update stores every entry of m as one write.
func (db *DB[V]) Update(m map[string]V) error {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	recs := make([]journal.Record, 0, len(keys))
	norm := make([]string, 0, len(keys))
	for _, key := range keys {
		k, err := db.opts.keyCodec.NormalizeKey(key)
		if err != nil {
			return err
		}
		data, err := db.encode(k, m[key])
		if err != nil {
			return err
		}
		recs = append(recs, journal.Put(k, data))
		norm = append(norm, k)
	}

	db.wmu.Lock()
	defer db.wmu.Unlock()
	if err := db.journal.Push(recs...); err != nil {
		return err
	}
	for i, k := range norm {
		db.table.Set(k, m[keys[i]])
	}
	return nil
}

// Len returns the number of keys.
func (db *DB[V]) Len() int {
	return db.table.Len()
}

// Keys returns the keys in ascending order.
func (db *DB[V]) Keys() []string {
	return db.table.Keys()
}

// All iterates over a snapshot of the store in key order.
func (db *DB[V]) All() iter.Seq2[string, V] {
	return db.table.All()
}

// Range calls fn for each entry, in no particular order, until fn returns
// false. fn must not modify the store.
func (db *DB[V]) Range(fn func(key string, v V) bool) {
	db.table.Range(fn)
}

// Flush waits until every write made so far is on disk.
func (db *DB[V]) Flush() error {
	return db.journal.Flush()
}

// Load flushes, then applies records other processes appended since the
// last load.
//
// A Set of a key racing a Load that is applying an older record for the same
// key from another process may briefly be shadowed by that record in memory.
// The file keeps both in append order, and the next Load settles the table on
// the newer value. Use Lock when a read must observe its own write.
func (db *DB[V]) Load() error {
	return db.journal.Load()
}

// Sync is an alias for Load.
func (db *DB[V]) Sync() error {
	return db.Load()
}

// Lock runs body while holding the store exclusively across goroutines and
// processes. The store is reloaded before body and again after the writes
// body made are flushed, all under the same lock, so body can perform atomic
// read-modify-write sequences.
func (db *DB[V]) Lock(body func(tx *Tx[V]) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	tx := &Tx[V]{db: db}
	return db.journal.Exclusive(func() error { return body(tx) })
}

// TryLock is Lock without waiting. It returns ErrLockContention when another
// goroutine or process holds the lock.
func (db *DB[V]) TryLock(body func(tx *Tx[V]) error) error {
	if !db.mu.TryLock() {
		return ErrLockContention
	}
	defer db.mu.Unlock()
	tx := &Tx[V]{db: db}
	return db.journal.TryExclusive(func() error { return body(tx) })
}

// Synchronize runs body while holding the store exclusively within this
// process only.
func (db *DB[V]) Synchronize(body func(tx *Tx[V]) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return body(&Tx[V]{db: db})
}

// Compact rewrites the file to hold only the live entries. It reports
// whether the file was replaced.
func (db *DB[V]) Compact() (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.compact()
}

// Clear removes every entry in this and every other process sharing the file.
func (db *DB[V]) Clear() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.journal.Clear()
}

// Close flushes pending writes and closes the file. Later calls return the
// result of the first.
func (db *DB[V]) Close() error {
	db.closeOnce.Do(func() {
		if db.autoSync != nil {
			db.autoSync.stop()
		}
		db.closeErr = db.journal.Close()
		db.unregisterMetrics()
		if db.opts.registry != nil {
			db.opts.registry.Unregister(db.regID)
		}
		db.logger.Debug("store closed", "path", db.path)
	})
	return db.closeErr
}

// Closed reports whether Close has been called.
func (db *DB[V]) Closed() bool {
	return db.journal.Closed()
}

// Bytesize returns the current file size.
func (db *DB[V]) Bytesize() (int64, error) {
	return db.journal.Bytesize()
}

// LogSize returns the number of records read or written since the file was
// last opened. Compare it with Len to decide when to compact.
func (db *DB[V]) LogSize() int {
	return db.journal.LogSize()
}

func (db *DB[V]) compact() (bool, error) {
	return db.journal.Compact(db.dump)
}

// put queues and applies one upsert. The caller holds wmu.
func (db *DB[V]) put(k string, v V) error {
	data, err := db.encode(k, v)
	if err != nil {
		return err
	}
	if err := db.journal.Push(journal.Put(k, data)); err != nil {
		return err
	}
	db.table.Set(k, v)
	return nil
}

func (db *DB[V]) encode(k string, v V) ([]byte, error) {
	data, err := db.opts.valueCodec.Encode(v)
	if err != nil {
		return nil, ErrEncoding.WithDetails("value for key %q", k).Wrap(err)
	}
	return data, nil
}

// replay applies one record read from the file; nil resets the table.
func (db *DB[V]) replay(rec *journal.Record) error {
	if rec == nil {
		db.wmu.Lock()
		db.table.Reset()
		db.wmu.Unlock()
		return nil
	}
	if rec.Tombstone {
		db.wmu.Lock()
		db.table.Delete(rec.Key)
		db.wmu.Unlock()
		return nil
	}

	v, err := db.opts.valueCodec.Decode(rec.Value)
	if err != nil {
		return ErrEncoding.WithDetails("decode value for key %q", rec.Key).Wrap(err)
	}
	db.wmu.Lock()
	db.table.Set(rec.Key, v)
	db.wmu.Unlock()
	return nil
}

// dump emits the live entries in key order for compaction.
func (db *DB[V]) dump(emit func(journal.Record) error) error {
	for k, v := range db.table.All() {
		data, err := db.encode(k, v)
		if err != nil {
			return err
		}
		if err := emit(journal.Put(k, data)); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB[V]) stats() metric.Stats {
	size, _ := db.journal.Bytesize()
	return metric.Stats{
		Keys:      db.table.Len(),
		FileBytes: size,
		LogSize:   db.journal.LogSize(),
	}
}

func (db *DB[V]) unregisterMetrics() {
	if db.collector != nil {
		db.opts.registerer.Unregister(db.collector)
		db.collector = nil
	}
}
