package journal

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/tidekv/internal/telemetry/metric"
)

// Clear replaces the file with an empty journal and reloads, which resets
// every replay receiver in every process that shares the file.
func (j *Journal) Clear() error {
	if j.closed.Load() {
		return ErrClosed
	}
	if err := j.Flush(); err != nil {
		return err
	}

	tmp, err := j.createTemp()
	if err != nil {
		return err
	}
	defer tmp.discard()

	if _, err := tmp.f.Write(j.format.Header()); err != nil {
		return fmt.Errorf("journal: write %s: %w", tmp.path, err)
	}
	if err := tmp.commit(); err != nil {
		return err
	}

	release, err := j.acquire(lockExclusive)
	if err != nil {
		return err
	}
	err = j.swap(tmp.path)
	release()
	if err != nil {
		return err
	}

	j.logger.Info("journal cleared")
	return j.load()
}

// Compact rewrites the file so it holds exactly the records produced by
// dump, plus anything other processes appended while dump ran. It reports
// whether the file was replaced. A compaction that would not change the file
// size, or that loses the race to another process's compaction, is a no-op.
func (j *Journal) Compact(dump DumpFunc) (bool, error) {
	if j.closed.Load() {
		return false, ErrClosed
	}
	if err := j.Load(); err != nil {
		return false, err
	}

	j.mu.Lock()
	startPos, startInode := j.pos, j.inode
	j.mu.Unlock()
	return j.compactFrom(dump, startPos, startInode)
}

// compactFrom runs a compaction whose view of the file ends at startPos of
// the file identified by startInode.
func (j *Journal) compactFrom(dump DumpFunc, startPos int64, startInode uint64) (bool, error) {
	if startPos < 0 {
		// The writer reopened a replacement after Load and nothing of it
		// has been read yet.
		return false, j.superseded()
	}

	tmp, err := j.createTemp()
	if err != nil {
		return false, err
	}
	defer tmp.discard()

	w := bufio.NewWriter(tmp.f)
	header := j.format.Header()
	size := int64(len(header))
	if _, err := w.Write(header); err != nil {
		return false, fmt.Errorf("journal: write %s: %w", tmp.path, err)
	}
	err = dump(func(rec Record) error {
		data, err := j.format.Encode(rec)
		if err != nil {
			return err
		}
		n, err := w.Write(data)
		size += int64(n)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("journal: compact dump: %w", err)
	}
	if err := w.Flush(); err != nil {
		return false, fmt.Errorf("journal: write %s: %w", tmp.path, err)
	}

	if size == startPos {
		j.metrics.Compactions.WithLabelValues(metric.CompactionNoop).Inc()
		j.logger.Debug("journal already compact", "bytes", size)
		return false, nil
	}

	release, err := j.acquire(lockExclusive)
	if err != nil {
		return false, err
	}

	j.mu.Lock()
	inode := j.inode
	j.mu.Unlock()
	if inode != startInode {
		release()
		return false, j.superseded()
	}

	before, err := j.copyTail(tmp.f, startPos)
	if err == nil {
		err = tmp.commit()
	}
	if err == nil {
		err = j.swap(tmp.path)
	}
	release()
	if err != nil {
		return false, err
	}

	j.metrics.Compactions.WithLabelValues(metric.CompactionSwapped).Inc()
	j.logger.Info("journal compacted",
		"bytes_before", before,
		"bytes_after", size+before-startPos)
	return true, j.load()
}

// superseded abandons a compaction because another process replaced the file
// first, and catches up with the replacement.
func (j *Journal) superseded() error {
	j.metrics.Compactions.WithLabelValues(metric.CompactionSuperseded).Inc()
	j.logger.Info("journal compaction superseded by another writer")
	return j.load()
}

// copyTail appends the live file's bytes from offset to dst and returns the
// live file size. The caller owns the exclusive lock.
func (j *Journal) copyTail(dst io.Writer, offset int64) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	fi, err := j.fd.Stat()
	if err != nil {
		return 0, fmt.Errorf("journal: stat %s: %w", j.path, err)
	}
	if n := fi.Size() - offset; n > 0 {
		if _, err := io.Copy(dst, io.NewSectionReader(j.fd, offset, n)); err != nil {
			return 0, fmt.Errorf("journal: copy tail: %w", err)
		}
	}
	return fi.Size(), nil
}

// swap renames tmpPath over the journal and reopens it. The caller owns the
// exclusive lock.
func (j *Journal) swap(tmpPath string) error {
	if err := os.Rename(tmpPath, j.path); err != nil {
		return fmt.Errorf("journal: rename %s: %w", tmpPath, err)
	}
	return j.open()
}

type tempFile struct {
	f      *os.File
	path   string
	closed bool
}

// createTemp creates "<path>.<ulid>.tmp" beside the journal so the final
// rename stays on one filesystem.
func (j *Journal) createTemp() (*tempFile, error) {
	path := j.path + "." + ulid.Make().String() + ".tmp"
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, j.cfg.FileMode)
	if err != nil {
		return nil, fmt.Errorf("journal: create temp: %w", err)
	}
	return &tempFile{f: f, path: path}, nil
}

// commit fsyncs and closes the temp file.
func (t *tempFile) commit() error {
	if err := t.f.Sync(); err != nil {
		return fmt.Errorf("journal: sync %s: %w", t.path, err)
	}
	t.closed = true
	if err := t.f.Close(); err != nil {
		return fmt.Errorf("journal: close %s: %w", t.path, err)
	}
	return nil
}

// discard removes the temp file unless it was renamed into place.
func (t *tempFile) discard() {
	if !t.closed {
		t.f.Close()
	}
	_ = os.Remove(t.path)
}
