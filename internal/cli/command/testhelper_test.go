package command

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/urfave/cli/v2"
)

// syncBuffer is a bytes.Buffer safe for a command writing while the test
// polls it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// testConfigFile writes a config file so the user's ~/.tidekv is not read.
func testConfigFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cli.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: error\n"), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// dbPath returns a fresh store path.
func dbPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

// newTestApp creates the app with captured output.
func newTestApp(stdout, stderr *syncBuffer) *cli.App {
	app := App()
	app.Writer = stdout
	app.ErrWriter = stderr
	app.Reader = strings.NewReader("")
	return app
}

// cliArgs builds a command line against db.
func cliArgs(t *testing.T, db string, args ...string) []string {
	return append([]string{"tidekv-cli", "--config", testConfigFile(t), "--db", db}, args...)
}

// run executes one command line against db and returns its stdout.
func run(t *testing.T, db string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr syncBuffer
	err := newTestApp(&stdout, &stderr).Run(cliArgs(t, db, args...))
	return stdout.String(), err
}

// mustRun is run that fails the test on error.
func mustRun(t *testing.T, db string, args ...string) string {
	t.Helper()
	out, err := run(t, db, args...)
	if err != nil {
		t.Fatalf("%v: %v", args, err)
	}
	return out
}

// decodeEntries parses `-o json` output of get and list.
func decodeEntries(t *testing.T, out string) map[string]any {
	t.Helper()
	var entries []entry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	m := make(map[string]any, len(entries))
	for _, e := range entries {
		m[e.Key] = e.Value
	}
	return m
}

// waitFor polls buf until it contains want.
func waitFor(t *testing.T, buf *syncBuffer, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(buf.String(), want) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("output never contained %q:\n%s", want, buf.String())
}
