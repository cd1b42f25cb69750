package auth

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCache_FreshHit(t *testing.T) {
	cache := NewAuthCache(1 * time.Minute)
	cache.Set("tsk_abc123", &ProjectContext{ProjectID: "proj_1", Mode: "enforce"})

	result := cache.Get("tsk_abc123")
	if !result.Hit || result.NeedsRefresh {
		t.Fatalf("expected fresh hit, got %+v", result)
	}
	if result.Project.ProjectID != "proj_1" {
		t.Errorf("expected proj_1, got %s", result.Project.ProjectID)
	}
}

func TestCache_Miss(t *testing.T) {
	cache := NewAuthCache(1 * time.Minute)

	result := cache.Get("tsk_nonexistent")
	if result.Hit || result.Project != nil || result.NeedsRefresh {
		t.Errorf("expected clean miss, got %+v", result)
	}
}

func TestCache_StaleHit_OneRefreshSignal(t *testing.T) {
	cache := NewAuthCache(1 * time.Millisecond)
	cache.Set("tsk_abc123", &ProjectContext{ProjectID: "proj_1", Mode: "shadow"})
	time.Sleep(5 * time.Millisecond)

	first := cache.Get("tsk_abc123")
	if !first.Hit || !first.NeedsRefresh {
		t.Fatalf("expected stale hit with refresh, got %+v", first)
	}
	second := cache.Get("tsk_abc123")
	if !second.Hit || second.NeedsRefresh {
		t.Errorf("only the first stale reader refreshes, got %+v", second)
	}

	cache.Set("tsk_abc123", &ProjectContext{ProjectID: "proj_1", Mode: "enforce"})
	if r := cache.Get("tsk_abc123"); r.NeedsRefresh || r.Project.Mode != "enforce" {
		t.Errorf("set should reset freshness, got %+v", r)
	}
}

func TestCache_Delete(t *testing.T) {
	cache := NewAuthCache(1 * time.Minute)
	cache.Set("tsk_abc123", &ProjectContext{ProjectID: "proj_1"})
	cache.Delete("tsk_abc123")

	if cache.Get("tsk_abc123").Hit {
		t.Error("expected miss after delete")
	}
}

func TestCache_KeysAreDistinct(t *testing.T) {
	cache := NewAuthCache(1 * time.Minute)
	cache.Set("tsk_a", &ProjectContext{ProjectID: "a"})
	cache.Set("tsk_b", &ProjectContext{ProjectID: "b"})

	if cache.Get("tsk_a").Project.ProjectID != "a" || cache.Get("tsk_b").Project.ProjectID != "b" {
		t.Error("entries collided")
	}
}

func TestCache_ConcurrentStaleRefresh(t *testing.T) {
	cache := NewAuthCache(1 * time.Millisecond)
	cache.Set("tsk_key", &ProjectContext{ProjectID: "proj_1"})
	time.Sleep(5 * time.Millisecond)

	var wg sync.WaitGroup
	var refreshCount atomic.Int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := cache.Get("tsk_key")
			if result.NeedsRefresh {
				refreshCount.Add(1)
			}
			if !result.Hit {
				t.Error("expected stale hit")
			}
		}()
	}
	wg.Wait()

	if got := refreshCount.Load(); got != 1 {
		t.Errorf("expected exactly 1 refresh signal, got %d", got)
	}
}

func BenchmarkCache_Get_FreshHit(b *testing.B) {
	cache := NewAuthCache(5 * time.Minute)
	cache.Set("tsk_bench_key", &ProjectContext{ProjectID: "proj_bench", Mode: "enforce"})

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if !cache.Get("tsk_bench_key").Hit {
				b.Fatal("expected hit")
			}
		}
	})
}
