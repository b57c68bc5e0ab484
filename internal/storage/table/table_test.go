package table

import (
	"fmt"
	"strings"
	"sync"
	"testing"
)

func TestNewWithShards(t *testing.T) {
	tests := []struct {
		input    int
		expected int
	}{
		{0, DefaultShardCount},
		{-4, DefaultShardCount},
		{6, DefaultShardCount},
		{1, 1},
		{8, 8},
		{64, 64},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("shards=%d", tt.input), func(t *testing.T) {
			tb := NewWithShards[int](tt.input)
			if len(tb.shards) != tt.expected {
				t.Errorf("NewWithShards(%d) shard count = %d, want %d", tt.input, len(tb.shards), tt.expected)
			}
		})
	}
}

func TestTable_SetGetDelete(t *testing.T) {
	tb := New[string]()
	tb.Set("a", "1")
	tb.Set("b", "2")

	if v, ok := tb.Get("a"); !ok || v != "1" {
		t.Errorf("Get(a) = (%q, %v), want (1, true)", v, ok)
	}
	if !tb.Has("b") {
		t.Errorf("Has(b) = false")
	}
	if v, ok := tb.Delete("a"); !ok || v != "1" {
		t.Errorf("Delete(a) = (%q, %v), want (1, true)", v, ok)
	}
	if _, ok := tb.Delete("a"); ok {
		t.Errorf("second Delete(a) reported a value")
	}
	if tb.Len() != 1 {
		t.Errorf("Len = %d, want 1", tb.Len())
	}
}

func TestTable_SetIfAbsent(t *testing.T) {
	tb := New[int]()
	if v, stored := tb.SetIfAbsent("k", 1); !stored || v != 1 {
		t.Fatalf("SetIfAbsent = (%d, %v), want (1, true)", v, stored)
	}
	if v, stored := tb.SetIfAbsent("k", 2); stored || v != 1 {
		t.Fatalf("SetIfAbsent = (%d, %v), want (1, false)", v, stored)
	}
}

func TestTable_ResetAndKeys(t *testing.T) {
	tb := New[int]()
	for _, k := range []string{"c", "a", "b"} {
		tb.Set(k, len(k))
	}
	keys := tb.Keys()
	if fmt.Sprint(keys) != "[a b c]" {
		t.Fatalf("Keys = %v, want [a b c]", keys)
	}
	tb.Reset()
	if tb.Len() != 0 {
		t.Fatalf("Len after Reset = %d", tb.Len())
	}
}

func TestTable_AllAllowsMutation(t *testing.T) {
	tb := New[int]()
	for i := 0; i < 10; i++ {
		tb.Set(fmt.Sprintf("k%02d", i), i)
	}
	var seen []string
	for k, v := range tb.All() {
		seen = append(seen, k)
		tb.Delete(k)
		if v >= 4 {
			break
		}
	}
	if len(seen) != 5 || seen[0] != "k00" || seen[4] != "k04" {
		t.Fatalf("seen = %v", seen)
	}
	if tb.Len() != 5 {
		t.Fatalf("Len = %d, want 5", tb.Len())
	}
}

func TestTable_Range(t *testing.T) {
	tb := New[int]()
	for i := 0; i < 100; i++ {
		tb.Set(fmt.Sprint(i), i)
	}
	n := 0
	tb.Range(func(string, int) bool {
		n++
		return n < 10
	})
	if n != 10 {
		t.Fatalf("Range visited %d, want 10", n)
	}
}

func TestTable_Concurrent(t *testing.T) {
	tb := New[int]()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				key := fmt.Sprintf("%d-%d", g, i)
				tb.Set(key, i)
				tb.Get(key)
				if i%2 == 0 {
					tb.Delete(key)
				}
			}
		}(g)
	}
	wg.Wait()
	if tb.Len() != 8*500 {
		t.Fatalf("Len = %d, want %d", tb.Len(), 8*500)
	}
}

func TestHashKey(t *testing.T) {
	tests := []struct {
		key  string
		want uint32
	}{
		{"", 0x00000000},
		{"hello", 0x248bfa47},
		{"hello, world", 0x149bbb7f},
		{"19 Jan 2038 at 3:14:07 AM", 0xe31e8a70},
		{"The quick brown fox jumps over the lazy dog.", 0xd5c48bfc},
	}
	for _, tt := range tests {
		if got := hashKey(tt.key); got != tt.want {
			t.Errorf("hashKey(%q) = %#x, want %#x", tt.key, got, tt.want)
		}
	}

	// Substrings start at arbitrary offsets inside their backing array.
	long := strings.Repeat("0123456789", 8)
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < len(long)-8; i++ {
				k := long[i : i+5+g]
				if hashKey(k) != hashKey(strings.Clone(k)) {
					t.Errorf("hashKey(%q) depends on alignment", k)
					return
				}
			}
		}(g)
	}
	wg.Wait()
}
