package router

import (
	"sync"
	"testing"
	"time"
)

func TestRateLimiter_DisabledIsNil(t *testing.T) {
	rl := NewRateLimiter(0, time.Minute)
	if rl != nil {
		t.Fatal("Expected nil limiter for zero limit")
	}
	for i := 0; i < 1000; i++ {
		if !rl.Allow("conn") {
			t.Fatal("Nil limiter must allow everything")
		}
	}
	rl.Forget("conn")
	rl.Cleanup()
}

func TestRateLimiter_WindowReset(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(3, time.Minute)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !rl.Allow("conn") {
			t.Fatalf("Message %d should be allowed", i)
		}
	}
	if rl.Allow("conn") {
		t.Error("Fourth message in the window should be rejected")
	}

	now = now.Add(time.Minute)
	if !rl.Allow("conn") {
		t.Error("New window should allow messages again")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(10, time.Minute)
	rl.now = func() time.Time { return now }

	rl.Allow("stale")
	now = now.Add(4 * time.Minute)
	rl.Allow("fresh")
	now = now.Add(2 * time.Minute)

	rl.Cleanup()

	if rl.Size() != 1 {
		t.Errorf("Expected 1 tracked key after cleanup, got %d", rl.Size())
	}
}

func TestRateLimiter_Concurrent(t *testing.T) {
	rl := NewRateLimiter(100, time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if rl.Allow("conn") {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if allowed != 100 {
		t.Errorf("Expected exactly 100 allowed messages, got %d", allowed)
	}
}
