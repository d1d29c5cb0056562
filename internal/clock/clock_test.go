package clock

import (
	"testing"
	"time"
)

func TestFakeTickerFiresOnAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFake(start)

	ticker := c.NewTicker(30 * time.Second)
	defer ticker.Stop()

	c.Advance(29 * time.Second)
	select {
	case <-ticker.C:
		t.Fatalf("ticker fired before its interval")
	default:
	}

	c.Advance(time.Second)
	select {
	case got := <-ticker.C:
		if !got.Equal(start.Add(30 * time.Second)) {
			t.Fatalf("expected tick at +30s, got %s", got)
		}
	default:
		t.Fatalf("expected ticker to fire at +30s")
	}
}

func TestFakeAfterAndStop(t *testing.T) {
	c := NewFake(time.Unix(0, 0))

	ch := c.After(time.Minute)
	ticker := c.NewTicker(time.Second)
	ticker.Stop()

	c.Advance(time.Minute)
	select {
	case <-ch:
	default:
		t.Fatalf("expected After channel to fire")
	}
	select {
	case <-ticker.C:
		t.Fatalf("stopped ticker fired")
	default:
	}
}

func TestWaitForTimers(t *testing.T) {
	c := NewFake(time.Unix(0, 0))

	done := make(chan struct{})
	go func() {
		<-c.After(time.Second)
		close(done)
	}()

	c.WaitForTimers(1)
	c.Advance(time.Second)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("goroutine waiting on After was not released")
	}
}
