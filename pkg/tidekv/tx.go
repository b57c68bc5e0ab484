package tidekv

// Tx is the store as seen from inside Lock or Synchronize. Its methods do
// not take the store's process lock, so nested flushes, loads, compactions
// and clears are safe. A Tx must not be used after its body returns.
type Tx[V any] struct {
	db *DB[V]
}

// Get is DB.Get.
func (tx *Tx[V]) Get(key string) (V, error) { return tx.db.Get(key) }

// Has is DB.Has.
func (tx *Tx[V]) Has(key string) bool { return tx.db.Has(key) }

// Set is DB.Set.
func (tx *Tx[V]) Set(key string, v V) error { return tx.db.Set(key, v) }

// SetSync is DB.SetSync.
func (tx *Tx[V]) SetSync(key string, v V) error { return tx.db.SetSync(key, v) }

// Delete is DB.Delete.
func (tx *Tx[V]) Delete(key string) error { return tx.db.Delete(key) }

// DeleteSync is DB.DeleteSync.
func (tx *Tx[V]) DeleteSync(key string) error { return tx.db.DeleteSync(key) }

// Update is DB.Update.
func (tx *Tx[V]) Update(m map[string]V) error { return tx.db.Update(m) }

// Len is DB.Len.
func (tx *Tx[V]) Len() int { return tx.db.Len() }

// Keys is DB.Keys.
func (tx *Tx[V]) Keys() []string { return tx.db.Keys() }

// Flush is DB.Flush.
func (tx *Tx[V]) Flush() error { return tx.db.Flush() }

// Load is DB.Load.
func (tx *Tx[V]) Load() error { return tx.db.Load() }

// Compact is DB.Compact without taking the process lock.
func (tx *Tx[V]) Compact() (bool, error) { return tx.db.compact() }

// Clear is DB.Clear without taking the process lock.
func (tx *Tx[V]) Clear() error { return tx.db.journal.Clear() }
