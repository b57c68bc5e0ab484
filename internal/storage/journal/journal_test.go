package journal

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/yndnr/tidekv/internal/telemetry/metric"
)

// state is a replay receiver mirroring the file as a map.
type state struct {
	mu     sync.Mutex
	m      map[string]string
	resets int
}

func newState() *state {
	return &state{m: make(map[string]string)}
}

func (s *state) replay(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case rec == nil:
		s.m = make(map[string]string)
		s.resets++
	case rec.Tombstone:
		delete(s.m, rec.Key)
	default:
		s.m[rec.Key] = string(rec.Value)
	}
	return nil
}

func (s *state) get(k string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[k]
	return v, ok
}

func (s *state) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

func (s *state) dump(emit func(Record) error) error {
	s.mu.Lock()
	recs := make([]Record, 0, len(s.m))
	for k, v := range s.m {
		recs = append(recs, Put(k, []byte(v)))
	}
	s.mu.Unlock()
	for _, rec := range recs {
		if err := emit(rec); err != nil {
			return err
		}
	}
	return nil
}

// push queues recs and applies them to s, the way the store applies its own
// writes to its table; the journal never replays them back.
func push(j *Journal, s *state, recs ...Record) error {
	if err := j.Push(recs...); err != nil {
		return err
	}
	for i := range recs {
		s.replay(&recs[i])
	}
	return nil
}

func openTest(t *testing.T, path string) (*Journal, *state) {
	t.Helper()
	s := newState()
	j, err := Open(Config{Path: path, Replay: s.replay, RetryBackoff: time.Millisecond})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j, s
}

func TestOpen_WritesHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	j, s := openTest(t, path)

	if s.resets != 1 {
		t.Fatalf("resets = %d, want 1", s.resets)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(data, DefaultFormat().Header()) {
		t.Fatalf("file = %q, want header only", data)
	}
	if n, _ := j.Bytesize(); n != HeaderSize {
		t.Fatalf("Bytesize = %d, want %d", n, HeaderSize)
	}
}

func TestOpen_RejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	if err := os.WriteFile(path, []byte("hello world, not a journal"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := Open(Config{Path: path})
	if !errors.Is(err, ErrFormat) {
		t.Fatalf("err = %v, want ErrFormat", err)
	}
}

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestJournal_PersistAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	j, s := openTest(t, path)

	if err := push(j, s, Put("a", []byte("1")), Put("b", []byte("2"))); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := push(j, s, Delete("a")); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := push(j, s, Put("c", []byte("3"))); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	j2, s2 := openTest(t, path)
	if _, ok := s2.get("a"); ok {
		t.Fatalf("deleted key a replayed")
	}
	if v, _ := s2.get("b"); v != "2" {
		t.Fatalf("b = %q, want 2", v)
	}
	if v, _ := s2.get("c"); v != "3" {
		t.Fatalf("c = %q, want 3", v)
	}
	if got := j2.LogSize(); got != 4 {
		t.Fatalf("LogSize = %d, want 4", got)
	}
}

func TestJournal_LoadSeesOtherHandle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	j1, s1 := openTest(t, path)
	j2, s2 := openTest(t, path)

	if err := push(j1, s1, Put("k", []byte("v"))); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := j1.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if _, ok := s2.get("k"); ok {
		t.Fatalf("k visible before Load")
	}
	if err := j2.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if v, _ := s2.get("k"); v != "v" {
		t.Fatalf("k = %q, want v", v)
	}

	// A second load replays nothing new.
	before := j2.LogSize()
	if err := j2.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if j2.LogSize() != before {
		t.Fatalf("LogSize changed on idle load: %d -> %d", before, j2.LogSize())
	}
}

func TestJournal_OwnWritesAreNotReplayed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	m := metric.NewJournalMetrics(nil)
	s := newState()
	j, err := Open(Config{Path: path, Replay: s.replay, Metrics: m})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer j.Close()

	for i := 0; i < 10; i++ {
		if err := j.Push(Put("k"+strconv.Itoa(i), []byte("v"))); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	if err := j.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := testutil.ToFloat64(m.RecordsReplayed); got != 0 {
		t.Fatalf("RecordsReplayed = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.RecordsWritten); got != 10 {
		t.Fatalf("RecordsWritten = %v, want 10", got)
	}
	if got := j.LogSize(); got != 10 {
		t.Fatalf("LogSize = %d, want 10", got)
	}
}

func TestJournal_LoadReplaysOwnWriteAfterForeign(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	j1, s1 := openTest(t, path)
	j2, _ := openTest(t, path)

	// j2 appends an older value that j1 has not loaded yet.
	j2.Push(Put("k", []byte("old")))
	j2.Flush()

	if err := push(j1, s1, Put("k", []byte("new"))); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := j1.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if v, _ := s1.get("k"); v != "new" {
		t.Fatalf("k = %q after Load, want new", v)
	}
	if got := j1.LogSize(); got != 3 {
		t.Fatalf("LogSize = %d, want 3", got)
	}
}

func TestJournal_TruncatedTailIsCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	j, _ := openTest(t, path)
	if err := j.Push(Put("a", []byte("1"))); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		t.Fatal(err)
	}
	f.Write([]byte{0, 0, 0, 9, 0, 0})
	f.Close()

	_, err = Open(Config{Path: path})
	if !errors.Is(err, ErrCorrupted) {
		t.Fatalf("err = %v, want ErrCorrupted", err)
	}
}

func TestJournal_ChecksumMismatchIsCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	j, _ := openTest(t, path)
	if err := j.Push(Put("a", []byte("value"))); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, _ := os.ReadFile(path)
	data[len(data)-6] ^= 0x01
	os.WriteFile(path, data, 0644)

	_, err := Open(Config{Path: path})
	if !IsCorruption(err) {
		t.Fatalf("err = %v, want corruption", err)
	}
}

func TestJournal_PushAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	j, _ := openTest(t, path)
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !j.Closed() {
		t.Fatalf("Closed = false")
	}
	if err := j.Push(Put("a", nil)); !errors.Is(err, ErrClosed) {
		t.Fatalf("Push err = %v, want ErrClosed", err)
	}
	if err := j.Load(); !errors.Is(err, ErrClosed) {
		t.Fatalf("Load err = %v, want ErrClosed", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestJournal_Compact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	j, s := openTest(t, path)

	for i := 0; i < 100; i++ {
		if err := push(j, s, Put("counter", []byte(strconv.Itoa(i)))); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	push(j, s, Put("gone", []byte("x")), Delete("gone"))
	if err := j.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	before, _ := j.Bytesize()

	swapped, err := j.Compact(s.dump)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if !swapped {
		t.Fatalf("Compact swapped = false")
	}
	after, _ := j.Bytesize()
	if after >= before {
		t.Fatalf("Bytesize after compact = %d, before = %d", after, before)
	}
	if j.LogSize() != 1 {
		t.Fatalf("LogSize = %d, want 1", j.LogSize())
	}

	// Compacting an already compact file is a no-op.
	swapped, err = j.Compact(s.dump)
	if err != nil {
		t.Fatalf("Compact 2: %v", err)
	}
	if swapped {
		t.Fatalf("second Compact swapped = true")
	}

	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_, s2 := openTest(t, path)
	if v, _ := s2.get("counter"); v != "99" {
		t.Fatalf("counter = %q, want 99", v)
	}
	if s2.len() != 1 {
		t.Fatalf("len = %d, want 1", s2.len())
	}

	matches, _ := filepath.Glob(path + ".*.tmp")
	if len(matches) != 0 {
		t.Fatalf("temp files left behind: %v", matches)
	}
}

func TestJournal_CompactKeepsConcurrentAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	j1, s1 := openTest(t, path)
	j2, s2 := openTest(t, path)

	push(j1, s1, Put("a", []byte("1")), Put("a", []byte("2")))
	j1.Flush()

	dump := func(emit func(Record) error) error {
		if err := push(j2, s2, Put("late", []byte("yes"))); err != nil {
			return err
		}
		if err := j2.Flush(); err != nil {
			return err
		}
		return s1.dump(emit)
	}
	if _, err := j1.Compact(dump); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if v, _ := s1.get("late"); v != "yes" {
		t.Fatalf("late = %q, want yes", v)
	}
	if v, _ := s1.get("a"); v != "2" {
		t.Fatalf("a = %q, want 2", v)
	}

	_, s3 := openTest(t, path)
	if v, _ := s3.get("late"); v != "yes" {
		t.Fatalf("reopened late = %q, want yes", v)
	}
}

func TestJournal_CompactSuperseded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	j1, s1 := openTest(t, path)
	j2, s2 := openTest(t, path)

	for i := 0; i < 10; i++ {
		push(j1, s1, Put("k", []byte(strconv.Itoa(i))))
	}
	j1.Flush()
	j2.Load()

	dump := func(emit func(Record) error) error {
		if _, err := j2.Compact(s2.dump); err != nil {
			return err
		}
		return s1.dump(emit)
	}
	swapped, err := j1.Compact(dump)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if swapped {
		t.Fatalf("superseded compaction reported swap")
	}
	if v, _ := s1.get("k"); v != "9" {
		t.Fatalf("k = %q, want 9", v)
	}
	if n, _ := j1.Bytesize(); n != HeaderSize+recordOverhead+2 {
		t.Fatalf("Bytesize = %d, want %d", n, HeaderSize+recordOverhead+2)
	}
}

func TestJournal_CompactAfterUnreadReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	m := metric.NewJournalMetrics(nil)
	s1 := newState()
	j1, err := Open(Config{Path: path, Replay: s1.replay, Metrics: m})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer j1.Close()
	j2, s2 := openTest(t, path)

	for i := 0; i < 10; i++ {
		push(j1, s1, Put("k", []byte(strconv.Itoa(i))))
	}
	j1.Flush()
	j2.Load()
	if _, err := j2.Compact(s2.dump); err != nil {
		t.Fatalf("j2 Compact: %v", err)
	}

	// The writer picks up the replacement before anything of it is read.
	if err := j1.open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	j1.mu.Lock()
	pos, inode := j1.pos, j1.inode
	j1.mu.Unlock()
	if pos != -1 {
		t.Fatalf("pos = %d, want -1", pos)
	}

	swapped, err := j1.compactFrom(s1.dump, pos, inode)
	if err != nil {
		t.Fatalf("compactFrom: %v", err)
	}
	if swapped {
		t.Fatalf("compaction over an unread file reported swap")
	}
	if got := testutil.ToFloat64(m.Compactions.WithLabelValues(metric.CompactionSuperseded)); got != 1 {
		t.Fatalf("superseded compactions = %v, want 1", got)
	}
	if v, _ := s1.get("k"); v != "9" {
		t.Fatalf("k = %q, want 9", v)
	}
	if n, _ := j1.Bytesize(); n != HeaderSize+recordOverhead+2 {
		t.Fatalf("Bytesize = %d, want %d", n, HeaderSize+recordOverhead+2)
	}
}

func TestJournal_ReplacedFileResetsReplay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	j, s := openTest(t, path)
	push(j, s, Put("old", []byte("1")))
	j.Flush()

	other := filepath.Join(dir, "other.db")
	jo, so := openTest(t, other)
	push(jo, so, Put("new", []byte("2")))
	if err := jo.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(other, path); err != nil {
		t.Fatal(err)
	}

	if err := j.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := s.get("old"); ok {
		t.Fatalf("old survived file replacement")
	}
	if v, _ := s.get("new"); v != "2" {
		t.Fatalf("new = %q, want 2", v)
	}
	if s.resets != 2 {
		t.Fatalf("resets = %d, want 2", s.resets)
	}
}

func TestJournal_Clear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	j1, s1 := openTest(t, path)
	j2, s2 := openTest(t, path)

	push(j1, s1, Put("a", []byte("1")), Put("b", []byte("2")))
	j1.Flush()
	j2.Load()
	if s2.len() != 2 {
		t.Fatalf("s2 len = %d, want 2", s2.len())
	}

	if err := j1.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if s1.len() != 0 {
		t.Fatalf("s1 len after clear = %d", s1.len())
	}
	if n, _ := j1.Bytesize(); n != HeaderSize {
		t.Fatalf("Bytesize = %d, want %d", n, HeaderSize)
	}
	if err := j2.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s2.len() != 0 {
		t.Fatalf("s2 len after clear = %d", s2.len())
	}
}

func TestJournal_ExclusiveFlushesBody(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	j1, s1 := openTest(t, path)
	j2, s2 := openTest(t, path)

	err := j1.Exclusive(func() error {
		return push(j1, s1, Put("k", []byte("v")))
	})
	if err != nil {
		t.Fatalf("Exclusive: %v", err)
	}
	if v, _ := s1.get("k"); v != "v" {
		t.Fatalf("k not replayed in s1")
	}
	if n := j1.queue.Len(); n != 0 {
		t.Fatalf("queued = %d after Exclusive", n)
	}
	j2.Load()
	if v, _ := s2.get("k"); v != "v" {
		t.Fatalf("k = %q in s2, want v", v)
	}
}

func TestJournal_ExclusiveNestedCompactAndClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	j, s := openTest(t, path)

	err := j.Exclusive(func() error {
		for i := 0; i < 5; i++ {
			if err := push(j, s, Put("k", []byte(strconv.Itoa(i)))); err != nil {
				return err
			}
		}
		if _, err := j.Compact(s.dump); err != nil {
			return err
		}
		return push(j, s, Put("after", []byte("compact")))
	})
	if err != nil {
		t.Fatalf("Exclusive: %v", err)
	}
	if v, _ := s.get("after"); v != "compact" {
		t.Fatalf("after = %q", v)
	}

	if err := j.Exclusive(j.Clear); err != nil {
		t.Fatalf("Exclusive(Clear): %v", err)
	}
	if s.len() != 0 {
		t.Fatalf("len after clear = %d", s.len())
	}
}

func TestJournal_TryExclusiveContention(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	j1, _ := openTest(t, path)
	j2, _ := openTest(t, path)

	var inner error
	err := j1.Exclusive(func() error {
		inner = j2.TryExclusive(func() error { return nil })
		return nil
	})
	if err != nil {
		t.Fatalf("Exclusive: %v", err)
	}
	if !errors.Is(inner, ErrLockContention) {
		t.Fatalf("TryExclusive err = %v, want ErrLockContention", inner)
	}
	if err := j2.TryExclusive(func() error { return nil }); err != nil {
		t.Fatalf("uncontended TryExclusive: %v", err)
	}
}

func TestJournal_ExclusiveReturnsBodyError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	j, _ := openTest(t, path)
	boom := errors.New("boom")
	if err := j.Exclusive(func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	// The lock was released.
	if err := j.TryExclusive(func() error { return nil }); err != nil {
		t.Fatalf("TryExclusive after failed body: %v", err)
	}
}

func TestJournal_BrokenWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	m := metric.NewJournalMetrics(nil)
	j, err := Open(Config{Path: path, Metrics: m, MaxAttempts: 2, RetryBackoff: time.Millisecond})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// Swap in a read-only descriptor for the same file so appends fail.
	ro, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	j.mu.Lock()
	rw := j.fd
	j.fd = ro
	j.mu.Unlock()
	defer rw.Close()

	j.Push(Put("a", []byte("1")))
	j.Push(Put("b", []byte("2")), Put("c", []byte("3")))

	if err := j.Flush(); !errors.Is(err, ErrBroken) {
		t.Fatalf("Flush err = %v, want ErrBroken", err)
	}
	if err := j.Push(Put("d", nil)); !errors.Is(err, ErrBroken) {
		t.Fatalf("Push err = %v, want ErrBroken", err)
	}
	if got := testutil.ToFloat64(m.WorkerFailures); got != 2 {
		t.Fatalf("WorkerFailures = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RecordsDropped); got != 3 {
		t.Fatalf("RecordsDropped = %v, want 3", got)
	}
	if err := j.Close(); !errors.Is(err, ErrBroken) {
		t.Fatalf("Close err = %v, want ErrBroken", err)
	}
}

func TestJournal_ConcurrentPush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	j, s0 := openTest(t, path)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				key := fmt.Sprintf("g%d-%d", g, i)
				if err := push(j, s0, Put(key, []byte(key))); err != nil {
					t.Errorf("Push: %v", err)
					return
				}
			}
		}(g)
	}
	wg.Wait()
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, s := openTest(t, path)
	if s.len() != 400 {
		t.Fatalf("len = %d, want 400", s.len())
	}
}

const helperEnv = "TIDEKV_HELPER_JOURNAL"

// TestHelperProcess increments a shared counter from a child process.
func TestHelperProcess(t *testing.T) {
	path := os.Getenv(helperEnv)
	if path == "" {
		t.Skip("helper process only")
	}
	j, s := openTest(t, path)
	for i := 0; i < incrementsPerProcess; i++ {
		if err := increment(j, s); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}
}

const incrementsPerProcess = 100

func increment(j *Journal, s *state) error {
	return j.Exclusive(func() error {
		v, _ := s.get("counter")
		n, _ := strconv.Atoi(v)
		return push(j, s, Put("counter", []byte(strconv.Itoa(n+1))))
	})
}

func TestJournal_CrossProcessExclusive(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a child process")
	}
	path := filepath.Join(t.TempDir(), "test.db")
	j, s := openTest(t, path)

	cmd := exec.Command(os.Args[0], "-test.run=^TestHelperProcess$")
	cmd.Env = append(os.Environ(), helperEnv+"="+path)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Start(); err != nil {
		t.Fatalf("start helper: %v", err)
	}

	for i := 0; i < incrementsPerProcess; i++ {
		if err := increment(j, s); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}
	if err := cmd.Wait(); err != nil {
		t.Fatalf("helper: %v\n%s", err, out.String())
	}

	if err := j.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := strconv.Itoa(2 * incrementsPerProcess)
	if v, _ := s.get("counter"); v != want {
		t.Fatalf("counter = %q, want %s", v, want)
	}
}
