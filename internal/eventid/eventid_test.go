package eventid

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
)

func TestGenerateIsDense(t *testing.T) {
	g := NewGenerator()
	for i := 1; i <= 100; i++ {
		got := g.Generate()
		if want := strconv.Itoa(i); got != want {
			t.Fatalf("Generate() = %q, want %q", got, want)
		}
	}
}

func TestGenerateScoped(t *testing.T) {
	g := NewGenerator()
	if got := g.GenerateScoped("sess"); got != "sess-1" {
		t.Errorf("GenerateScoped(sess) = %q, want sess-1", got)
	}
	if got := g.GenerateScoped(""); got != "2" {
		t.Errorf("GenerateScoped with empty scope = %q, want 2", got)
	}
	if got := g.Generate(); got != "3" {
		t.Errorf("scoped and unscoped ids must share one counter, got %q", got)
	}
}

func TestGenerateConcurrentNoDuplicatesNoGaps(t *testing.T) {
	const (
		workers = 16
		perW    = 500
	)

	g := NewGenerator()
	results := make([][]string, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			ids := make([]string, 0, perW)
			for i := 0; i < perW; i++ {
				ids = append(ids, g.GenerateScoped("s"))
			}
			results[w] = ids
		}(w)
	}
	wg.Wait()

	seen := make([]int, 0, workers*perW)
	for _, ids := range results {
		for _, id := range ids {
			numeric := strings.TrimPrefix(id, "s-")
			n, err := strconv.Atoi(numeric)
			if err != nil {
				t.Fatalf("unparseable id %q: %v", id, err)
			}
			seen = append(seen, n)
		}
	}

	sort.Ints(seen)
	for i, n := range seen {
		if n != i+1 {
			t.Fatalf("id sequence has gap or duplicate at position %d: got %d", i, n)
		}
	}
}

func TestResetRestartsSequence(t *testing.T) {
	g := NewGenerator()
	g.Generate()
	g.Generate()
	g.Reset()
	if got := g.Generate(); got != "1" {
		t.Errorf("Generate after Reset = %q, want 1", got)
	}
}
