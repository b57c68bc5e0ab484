package journal

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/tidekv/internal/telemetry/metric"
)

// Default configuration values.
const (
	DefaultFileMode     os.FileMode = 0644
	DefaultMaxAttempts              = 3
	DefaultRetryBackoff             = 10 * time.Millisecond
)

// ReplayFunc receives every record decoded by a load, in file order.
//
// A nil record is a reset: the file was (re)opened and replay restarts from
// its first record, so the receiver must drop all state derived from earlier
// records.
type ReplayFunc func(rec *Record) error

// DumpFunc writes the live record set through emit. It is used by Compact.
type DumpFunc func(emit func(Record) error) error

// Config configures a Journal.
type Config struct {
	Path     string
	Format   Format
	FileMode os.FileMode
	Replay   ReplayFunc

	Logger  *slog.Logger
	Metrics *metric.JournalMetrics

	// MaxAttempts bounds how often the worker retries one queued item
	// before the journal is marked broken.
	MaxAttempts int

	// RetryBackoff is the first delay between attempts; it grows 4x.
	RetryBackoff time.Duration
}

func applyDefaults(cfg *Config) {
	if cfg.Format == nil {
		cfg.Format = DefaultFormat()
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = DefaultFileMode
	}
	if cfg.Replay == nil {
		cfg.Replay = func(*Record) error { return nil }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metric.NewJournalMetrics(nil)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
}

// item is one unit of work for the writer: framed records or the stop sentinel.
type item struct {
	data  []byte
	count int
	stop  bool
}

// Journal is an append-only log file shared between goroutines and processes.
type Journal struct {
	cfg     Config
	path    string
	format  Format
	logger  *slog.Logger
	metrics *metric.JournalMetrics

	queue  *Queue[item]
	gate   *gate
	loadMu sync.Mutex
	done   chan struct{}

	// lifeMu orders Push against Close so nothing lands behind the stop item.
	lifeMu sync.RWMutex
	closed atomic.Bool
	broken atomic.Pointer[Error]

	mu      sync.Mutex
	fd      *os.File
	inode   uint64
	pos     int64 // consumed offset; -1 until the header has been read
	logsize int
}

// Open opens or creates the journal at cfg.Path, starts the writer and
// replays the existing records through cfg.Replay.
func Open(cfg Config) (*Journal, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("journal: path is required")
	}
	applyDefaults(&cfg)

	j := &Journal{
		cfg:     cfg,
		path:    cfg.Path,
		format:  cfg.Format,
		logger:  cfg.Logger.With("path", cfg.Path),
		metrics: cfg.Metrics,
		queue:   NewQueue[item](),
		gate:    newGate(),
		done:    make(chan struct{}),
		pos:     -1,
	}

	if err := j.open(); err != nil {
		return nil, err
	}

	go j.worker()

	if err := j.load(); err != nil {
		j.Close()
		return nil, err
	}
	return j, nil
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

// Closed reports whether Close has been called.
func (j *Journal) Closed() bool {
	return j.closed.Load()
}

// Err returns the sticky writer error, if the journal is broken.
func (j *Journal) Err() error {
	if e := j.broken.Load(); e != nil {
		return e
	}
	return nil
}

// LogSize returns the number of records read or written since the file was
// last opened.
func (j *Journal) LogSize() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.logsize
}

// Bytesize returns the current size of the journal file.
func (j *Journal) Bytesize() (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	fi, err := j.fd.Stat()
	if err != nil {
		return 0, fmt.Errorf("journal: stat: %w", err)
	}
	return fi.Size(), nil
}

// Push frames recs and queues them as one write. It returns immediately;
// encoding errors surface here, write errors surface from Flush or Close.
func (j *Journal) Push(recs ...Record) error {
	if len(recs) == 0 {
		return nil
	}
	data, err := encodeAll(j.format, recs)
	if err != nil {
		return err
	}

	j.lifeMu.RLock()
	defer j.lifeMu.RUnlock()
	if j.closed.Load() {
		return ErrClosed
	}
	if err := j.Err(); err != nil {
		return err
	}
	j.metrics.QueueDepth.Inc()
	j.queue.Push(item{data: data, count: len(recs)})
	return nil
}

// Flush blocks until every queued write has been processed.
func (j *Journal) Flush() error {
	j.queue.Flush()
	return j.Err()
}

// Load flushes this process's writes, then replays records appended to the
// file since the last load. Calling it repeatedly never replays a byte twice
// unless the file was replaced, in which case replay restarts with a reset.
func (j *Journal) Load() error {
	if j.closed.Load() {
		return ErrClosed
	}
	if err := j.Flush(); err != nil {
		return err
	}
	return j.load()
}

// Exclusive holds the exclusive file lock while it reloads, runs body,
// flushes the writes body queued, and reloads again. Writes queued by body
// are flushed under the same lock.
func (j *Journal) Exclusive(body func() error) error {
	return j.exclusive(flock, body)
}

// TryExclusive is Exclusive without blocking on other processes; it returns
// ErrLockContention when the lock is held elsewhere.
func (j *Journal) TryExclusive(body func() error) error {
	return j.exclusive(tryFlock, body)
}

func (j *Journal) exclusive(lockFn func(*os.File, int) error, body func() error) error {
	if j.closed.Load() {
		return ErrClosed
	}
	if err := j.Flush(); err != nil {
		return err
	}

	if j.gate.enter() {
		defer j.gate.leave(true)
		return j.critical(body)
	}
	if _, err := j.lockCurrent(lockFn, lockExclusive); err != nil {
		j.gate.leave(false)
		return err
	}
	j.gate.startSession()
	defer func() {
		j.gate.stopSession()
		j.mu.Lock()
		fd := j.fd
		j.mu.Unlock()
		_ = funlock(fd)
		j.gate.leave(false)
	}()
	return j.critical(body)
}

func (j *Journal) critical(body func() error) error {
	if err := j.load(); err != nil {
		return err
	}
	err := body()
	if ferr := j.Flush(); err == nil {
		err = ferr
	}
	if lerr := j.load(); err == nil {
		err = lerr
	}
	return err
}

// Close drains the queue, stops the writer and closes the file. Pending
// writes are never discarded. Close returns the sticky writer error if any.
func (j *Journal) Close() error {
	j.lifeMu.Lock()
	if j.closed.Load() {
		j.lifeMu.Unlock()
		return nil
	}
	j.closed.Store(true)
	j.queue.Push(item{stop: true})
	j.lifeMu.Unlock()

	<-j.done

	j.mu.Lock()
	err := j.fd.Close()
	j.mu.Unlock()

	if berr := j.Err(); berr != nil {
		return berr
	}
	if err != nil {
		return fmt.Errorf("journal: close: %w", err)
	}
	return nil
}

// open (re)opens the file at path, writing the header into an empty file
// and validating it otherwise. Inside an exclusive session the new file stays
// exclusively locked. Any previously open descriptor is closed.
func (j *Journal) open() error {
	keep := j.gate.inSession()
	for {
		fd, err := os.OpenFile(j.path, os.O_RDWR|os.O_CREATE|os.O_APPEND, j.cfg.FileMode)
		if err != nil {
			return fmt.Errorf("journal: open %s: %w", j.path, err)
		}
		if err := flock(fd, lockExclusive); err != nil {
			fd.Close()
			return fmt.Errorf("journal: lock %s: %w", j.path, err)
		}

		gone, err := replaced(fd, j.path)
		if err == nil && gone {
			_ = funlock(fd)
			fd.Close()
			continue
		}
		if err == nil {
			err = j.prepare(fd)
		}
		var ino uint64
		if err == nil {
			ino, _, err = identity(fd)
		}
		if err != nil {
			_ = funlock(fd)
			fd.Close()
			return err
		}
		if !keep {
			_ = funlock(fd)
		}

		j.mu.Lock()
		old := j.fd
		j.fd = fd
		j.inode = ino
		j.pos = -1
		j.logsize = 0
		j.mu.Unlock()

		if old != nil {
			old.Close()
		}
		return nil
	}
}

// prepare writes the header into an empty file or validates an existing one.
// The caller holds the exclusive lock on fd.
func (j *Journal) prepare(fd *os.File) error {
	fi, err := fd.Stat()
	if err != nil {
		return fmt.Errorf("journal: stat %s: %w", j.path, err)
	}
	header := j.format.Header()
	if fi.Size() == 0 {
		if _, err := fd.Write(header); err != nil {
			return fmt.Errorf("journal: write header: %w", err)
		}
		if err := fd.Sync(); err != nil {
			return fmt.Errorf("journal: sync header: %w", err)
		}
		return nil
	}
	if err := j.format.ReadHeader(io.NewSectionReader(fd, 0, int64(len(header)))); err != nil {
		return fmt.Errorf("journal: %s: %w", j.path, err)
	}
	return nil
}

// acquire takes this process's ownership of the file plus an OS lock of kind
// how. The returned func releases both. Inside an exclusive session the
// session's lock is borrowed instead.
func (j *Journal) acquire(how int) (func(), error) {
	if j.gate.enter() {
		return func() { j.gate.leave(true) }, nil
	}
	fd, err := j.lockCurrent(flock, how)
	if err != nil {
		j.gate.leave(false)
		return nil, err
	}
	return func() {
		_ = funlock(fd)
		j.gate.leave(false)
	}, nil
}

// lockCurrent locks the open file, reopening it for as long as another
// process has replaced it in the meantime.
func (j *Journal) lockCurrent(lockFn func(*os.File, int) error, how int) (*os.File, error) {
	for {
		j.mu.Lock()
		fd := j.fd
		j.mu.Unlock()

		if err := lockFn(fd, how); err != nil {
			if errors.Is(err, ErrLockContention) {
				return nil, err
			}
			return nil, fmt.Errorf("journal: lock %s: %w", j.path, err)
		}
		gone, err := replaced(fd, j.path)
		if err != nil {
			_ = funlock(fd)
			return nil, fmt.Errorf("journal: stat %s: %w", j.path, err)
		}
		if !gone {
			return fd, nil
		}

		_ = funlock(fd)
		j.metrics.Reopens.Inc()
		j.logger.Debug("journal file replaced, reopening")
		if err := j.open(); err != nil {
			return nil, err
		}
	}
}

// load replays bytes appended since the last load. It does not flush.
func (j *Journal) load() error {
	release, err := j.acquire(lockShared)
	if err != nil {
		return err
	}
	j.loadMu.Lock()
	defer j.loadMu.Unlock()

	buf, start, fresh, fd, err := j.readNew()
	release()
	if err != nil {
		return err
	}
	return j.apply(buf, start, fresh, fd)
}

// readNew returns the unread tail of the file. fresh reports that the file
// was (re)opened and reading started right after the header.
func (j *Journal) readNew() (buf []byte, start int64, fresh bool, fd *os.File, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	fd, start = j.fd, j.pos
	if start < 0 {
		fresh = true
		hlen := int64(len(j.format.Header()))
		if err := j.format.ReadHeader(io.NewSectionReader(fd, 0, hlen)); err != nil {
			return nil, 0, false, fd, fmt.Errorf("journal: %s: %w", j.path, err)
		}
		start = hlen
	}

	fi, err := fd.Stat()
	if err != nil {
		return nil, 0, false, fd, fmt.Errorf("journal: stat %s: %w", j.path, err)
	}
	n := fi.Size() - start
	if n <= 0 {
		return nil, start, fresh, fd, nil
	}
	buf = make([]byte, n)
	if _, err := io.ReadFull(io.NewSectionReader(fd, start, n), buf); err != nil {
		return nil, 0, false, fd, fmt.Errorf("journal: read %s: %w", j.path, err)
	}
	return buf, start, fresh, fd, nil
}

// apply decodes buf and hands each record to the replay callback, then
// advances the consumed offset past what was applied.
func (j *Journal) apply(buf []byte, start int64, fresh bool, fd *os.File) error {
	var err error
	if fresh {
		err = j.cfg.Replay(nil)
	}

	consumed, n := 0, 0
	for err == nil && consumed < len(buf) {
		rec, size, derr := j.format.Decode(buf[consumed:])
		if derr != nil {
			if errors.Is(derr, io.ErrUnexpectedEOF) {
				derr = ErrCorrupted.WithDetails("truncated record at offset %d", start+int64(consumed))
			}
			err = fmt.Errorf("journal: load %s: %w", j.path, derr)
			break
		}
		if rerr := j.cfg.Replay(&rec); rerr != nil {
			err = rerr
			break
		}
		consumed += size
		n++
	}
	j.metrics.RecordsReplayed.Add(float64(n))

	j.mu.Lock()
	if j.fd == fd && (!fresh || err == nil || consumed > 0) {
		if end := start + int64(consumed); j.pos < end {
			j.pos = end
		}
		j.logsize += n
	}
	j.mu.Unlock()
	return err
}

// worker is the only goroutine that appends to the file.
func (j *Journal) worker() {
	defer close(j.done)
	for {
		it := j.queue.Next()
		if it.stop {
			j.queue.Pop()
			return
		}

		if j.Err() != nil {
			j.metrics.RecordsDropped.Add(float64(it.count))
		} else if err := j.writeWithRetry(it); err != nil {
			j.breakWith(err, it.count)
		}
		j.metrics.QueueDepth.Dec()
		j.queue.Pop()
	}
}

// writeWithRetry writes one item, retrying with growing backoff.
func (j *Journal) writeWithRetry(it item) error {
	backoff := j.cfg.RetryBackoff
	var err error
	for attempt := 1; attempt <= j.cfg.MaxAttempts; attempt++ {
		if err = j.write(it); err == nil {
			return nil
		}
		j.metrics.WorkerFailures.Inc()
		j.logger.Error("journal write failed",
			"attempt", attempt,
			"records", it.count,
			"error", err)
		if attempt < j.cfg.MaxAttempts {
			time.Sleep(backoff)
			backoff *= 4
		}
	}
	return err
}

// breakWith marks the journal broken. Later items are dropped and every
// blocking call reports the failure.
func (j *Journal) breakWith(err error, count int) {
	j.broken.CompareAndSwap(nil, ErrBroken.Wrap(err))
	j.metrics.RecordsDropped.Add(float64(count))
	j.logger.Error("journal writer broken, queued records will be dropped",
		"records", count,
		"error", err)
}

// write appends one item under the exclusive lock and fsyncs it.
func (j *Journal) write(it item) error {
	release, err := j.acquire(lockExclusive)
	if err != nil {
		return err
	}
	defer release()

	j.mu.Lock()
	defer j.mu.Unlock()

	fd := j.fd
	fi, err := fd.Stat()
	if err != nil {
		return fmt.Errorf("journal: stat: %w", err)
	}
	before := fi.Size()

	if _, err := fd.Write(it.data); err != nil {
		_ = fd.Truncate(before)
		return fmt.Errorf("journal: append: %w", err)
	}
	started := time.Now()
	if err := fd.Sync(); err != nil {
		_ = fd.Truncate(before)
		return fmt.Errorf("journal: sync: %w", err)
	}
	j.metrics.FsyncDuration.Observe(time.Since(started).Seconds())

	size := int64(len(it.data))
	if fi, err := fd.Stat(); err == nil && j.pos >= 0 && fi.Size() == j.pos+size {
		j.pos = fi.Size()
	}
	j.logsize += it.count
	j.metrics.RecordsWritten.Add(float64(it.count))
	j.metrics.BytesWritten.Add(float64(size))
	return nil
}
