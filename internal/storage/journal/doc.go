// Package journal provides the append-only log behind a tidekv store.
//
// A journal owns exactly one file. Writers never modify bytes in place; every
// update is a new record appended at the end, and the newest record for a key
// wins on replay. Compaction and clear replace the whole file atomically with
// rename(2).
//
// Features:
//
//   - Background writes: callers enqueue framed records, a single worker
//     goroutine appends them in FIFO order and fsyncs
//   - Multi-process safety: advisory flock(2) locks plus inode/link-count
//     checks detect a file replaced by another process
//   - Incremental replay: Load reads only the bytes appended since the last
//     read and hands each record to the replay callback
//   - Compaction: the live key set is written to a temp file, records appended
//     concurrently by other processes are carried over, then renamed in place
//
// File format:
//
//	[magic:8 "DAYBREAK"][version:2]
//	[Record]*
//
// Record wire format:
//
//	[KeyLen:4][ValueLen:4][Key][Value][CRC32:4]
//
// Where:
//   - all integers are big-endian uint32
//   - ValueLen 0xFFFFFFFF marks a tombstone; no value bytes follow
//   - CRC32 (IEEE) covers KeyLen, ValueLen, Key and Value
package journal
