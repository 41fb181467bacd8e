package clock

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSleepWaits(t *testing.T) {
	c := NewClock()

	start := c.Now()

	if err := c.Sleep(context.Background(), 20*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("slept for %v, want at least 20ms", elapsed)
	}
}

func TestSleepReturnsOnCancel(t *testing.T) {
	c := NewClock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Sleep(ctx, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestAfterFuncFiresOnce(t *testing.T) {
	c := NewClock()

	fired := make(chan struct{}, 2)
	c.AfterFunc(time.Millisecond, func() { fired <- struct{}{} })

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("AfterFunc never fired")
	}
}

func TestAfterFuncStop(t *testing.T) {
	c := NewClock()

	fired := make(chan struct{}, 1)
	timer := c.AfterFunc(time.Hour, func() { fired <- struct{}{} })

	if !timer.Stop() {
		t.Error("Stop() = false for a pending timer")
	}

	select {
	case <-fired:
		t.Error("stopped timer fired")
	default:
	}
}
