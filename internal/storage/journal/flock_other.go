//go:build !unix

package journal

import "os"

// Platforms without flock(2) only get in-process exclusion from the gate.

const (
	lockShared    = 1
	lockExclusive = 2
)

func flock(f *os.File, how int) error    { return nil }
func tryFlock(f *os.File, how int) error { return nil }
func funlock(f *os.File) error           { return nil }

func identity(f *os.File) (uint64, uint64, error) {
	return 0, 1, nil
}

func replaced(f *os.File, path string) (bool, error) {
	fi, err := f.Stat()
	if err != nil {
		return false, err
	}
	cur, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}
	return !os.SameFile(fi, cur), nil
}
