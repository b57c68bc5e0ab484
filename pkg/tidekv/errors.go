package tidekv

import (
	"github.com/yndnr/tidekv/internal/storage/journal"
)

// Error is a coded store error. Compare with errors.Is against the values
// below.
type Error = journal.Error

var (
	ErrFormat         = journal.ErrFormat
	ErrVersion        = journal.ErrVersion
	ErrCorrupted      = journal.ErrCorrupted
	ErrEncoding       = journal.ErrEncoding
	ErrLockContention = journal.ErrLockContention
	ErrBroken         = journal.ErrBroken
	ErrClosed         = journal.ErrClosed

	// ErrNotFound is returned by Get for a missing key when no default is
	// configured.
	ErrNotFound = &Error{Code: "TK-KEY-4040", Message: "key not found"}
)

// IsCorruption reports whether err means the file is damaged or is not a
// store file.
func IsCorruption(err error) bool {
	return journal.IsCorruption(err)
}
