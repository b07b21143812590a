package socket

import (
	"testing"
	"time"
)

func TestBackoff_CapsDelay(t *testing.T) {
	b := newBackoff(10, 40) // nanoseconds-scale base/cap for a fast, deterministic test
	for i := 0; i < 20; i++ {
		d := b.next()
		if d > 40*12/10 { // allow the +20% jitter headroom
			t.Fatalf("attempt %d: delay %v exceeded cap with jitter", i, d)
		}
	}
}

func TestBackoff_GrowsThenCaps(t *testing.T) {
	b := newBackoff(100, 1000)
	prev := b.next()
	for i := 0; i < 8; i++ {
		d := b.next()
		if d < prev/2 {
			t.Fatalf("delay shrank unexpectedly: prev=%v next=%v", prev, d)
		}
		prev = d
	}
}

func TestBackoff_Reset(t *testing.T) {
	b := newBackoff(100, 100000)
	for i := 0; i < 5; i++ {
		b.next()
	}
	b.reset()
	if b.attempt != 0 {
		t.Fatalf("reset did not clear attempt counter, got %d", b.attempt)
	}
}

func TestBackoff_DefaultsOnNonPositive(t *testing.T) {
	b := newBackoff(0, 0)
	if b.base != time.Second {
		t.Errorf("expected default base of 1s, got %v", b.base)
	}
	if b.cap != 30*time.Second {
		t.Errorf("expected default cap of 30s, got %v", b.cap)
	}
}
