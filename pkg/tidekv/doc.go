// Package tidekv is an embedded key-value store kept in memory and persisted
// to a single append-only file.
//
// Any number of goroutines and processes may open the same file. Writes are
// visible to the writing process at once and are appended to the file in
// the background; other processes see them after Load. Lock gives atomic
// read-modify-write across processes:
//
//	db, err := tidekv.Open[int]("counters.db", tidekv.WithDefault(0))
//	if err != nil {
//		return err
//	}
//	defer db.Close()
//
//	err = db.Lock(func(tx *tidekv.Tx[int]) error {
//		n, err := tx.Get("hits")
//		if err != nil {
//			return err
//		}
//		return tx.Set("hits", n+1)
//	})
//
// The file holds a "DAYBREAK" header followed by CRC32-checked records, the
// newest record for a key winning. Compact rewrites the file without
// superseded records.
package tidekv
