package dedup

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"go.uber.org/goleak"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "dedup.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// Both implementations must satisfy the same contract.
func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"sqlite": newTestSQLite(t),
		"memory": NewMemoryStore(),
		"cached": NewCachedStore(newTestSQLite(t)),
	}
}

func TestMarkURLVisitedOnce(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			visited, err := s.IsURLVisited(ctx, "https://a.example", "r1")
			if err != nil || visited {
				t.Fatalf("fresh URL visited=%v err=%v", visited, err)
			}

			novel, err := s.MarkURLVisited(ctx, "https://a.example", "r1")
			if err != nil || !novel {
				t.Fatalf("first mark novel=%v err=%v", novel, err)
			}

			novel, err = s.MarkURLVisited(ctx, "https://a.example", "r1")
			if err != nil || novel {
				t.Fatalf("second mark novel=%v err=%v, want false", novel, err)
			}

			visited, err = s.IsURLVisited(ctx, "https://a.example", "r1")
			if err != nil || !visited {
				t.Fatalf("after mark visited=%v err=%v", visited, err)
			}
		})
	}
}

func TestURLScopedPerSession(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if novel, _ := s.MarkURLVisited(ctx, "https://a.example", "r1"); !novel {
				t.Fatal("first session mark should be novel")
			}
			// The same URL in a different session is unvisited.
			if novel, _ := s.MarkURLVisited(ctx, "https://a.example", "r2"); !novel {
				t.Error("other session should not see r1's visit")
			}
		})
	}
}

func TestMarkURLVisitedExactlyOneWinner(t *testing.T) {
	// Registered before the stores so LIFO cleanup runs the leak check
	// after their connections close.
	t.Cleanup(func() { goleak.VerifyNone(t) })

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const callers = 16

			var wg sync.WaitGroup
			winners := make(chan bool, callers)
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					novel, err := s.MarkURLVisited(ctx, "https://race.example/u", "r1")
					if err != nil {
						t.Errorf("MarkURLVisited: %v", err)
						return
					}
					winners <- novel
				}()
			}
			wg.Wait()
			close(winners)

			won := 0
			for novel := range winners {
				if novel {
					won++
				}
			}
			if won != 1 {
				t.Errorf("winners = %d, want exactly 1", won)
			}
		})
	}
}

func TestMarkEntityKnownNoveltyAndMerge(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			novel, err := s.MarkEntityKnown(ctx, "BMS-986158", map[string]string{
				"target": "CDK12/13",
				"owner":  "Unknown",
			})
			if err != nil || !novel {
				t.Fatalf("first mark novel=%v err=%v", novel, err)
			}

			// Re-observation fills the Unknown slot but is not novel.
			novel, err = s.MarkEntityKnown(ctx, "BMS-986158", map[string]string{
				"target": "SOMETHING ELSE",
				"owner":  "Acme Pharma",
			})
			if err != nil || novel {
				t.Fatalf("second mark novel=%v err=%v, want false", novel, err)
			}

			known, err := s.IsEntityKnown(ctx, "BMS-986158")
			if err != nil || !known {
				t.Fatalf("IsEntityKnown=%v err=%v", known, err)
			}
		})
	}
}

func TestSQLiteMergePersistsFillOnly(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	if _, err := s.MarkEntityKnown(ctx, "X-101", map[string]string{"target": "CDK12", "owner": ""}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.MarkEntityKnown(ctx, "X-101", map[string]string{"target": "WRONG", "owner": "Acme"}); err != nil {
		t.Fatal(err)
	}

	attrs, err := s.EntityAttributes(ctx, "X-101")
	if err != nil {
		t.Fatal(err)
	}
	if attrs["target"] != "CDK12" {
		t.Errorf("populated slot overwritten: target=%q", attrs["target"])
	}
	if attrs["owner"] != "Acme" {
		t.Errorf("missing slot not filled: owner=%q", attrs["owner"])
	}
}

func TestCachedStoreServesRepeatsFromCache(t *testing.T) {
	auth := NewMemoryStore()
	c := NewCachedStore(auth)
	ctx := context.Background()

	if _, err := c.MarkURLVisited(ctx, "https://a.example", "r1"); err != nil {
		t.Fatal(err)
	}

	// Cache hit path must agree with the authoritative answer.
	visited, err := c.IsURLVisited(ctx, "https://a.example", "r1")
	if err != nil || !visited {
		t.Fatalf("cached read visited=%v err=%v", visited, err)
	}

	// A value written straight to the authority is found via cache-aside.
	if _, err := auth.MarkURLVisited(ctx, "https://b.example", "r1"); err != nil {
		t.Fatal(err)
	}
	visited, err = c.IsURLVisited(ctx, "https://b.example", "r1")
	if err != nil || !visited {
		t.Fatalf("cache-aside read visited=%v err=%v", visited, err)
	}
}
