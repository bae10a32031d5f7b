package sync

import (
	"testing"
	"time"
)

func TestRetryPolicy_DelayDoubles(t *testing.T) {
	p := RetryPolicy{Base: time.Second, MaxRetries: 3}

	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
	}

	for _, tt := range tests {
		if got := p.Delay(tt.retryCount); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.retryCount, got, tt.want)
		}
	}
}

func TestRetryPolicy_JitterKeepsDelaysMonotonic(t *testing.T) {
	p := RetryPolicy{Base: 100 * time.Millisecond, MaxRetries: 5, Jitter: 80 * time.Millisecond}

	// Jittered delays must never decrease as retryCount increases. The
	// jitter bound is below Base, so the worst case for retry n is still
	// below the best case for retry n+1.
	for run := 0; run < 50; run++ {
		prev := time.Duration(0)
		for rc := 0; rc < 5; rc++ {
			d := p.Delay(rc)
			if d < prev {
				t.Fatalf("delay decreased: Delay(%d) = %v after %v", rc, d, prev)
			}
			floor := p.Base << rc
			if d < floor {
				t.Fatalf("Delay(%d) = %v below exponential floor %v", rc, d, floor)
			}
			prev = d
		}
	}
}

func TestRetryPolicy_JitterClampedToBase(t *testing.T) {
	p := RetryPolicy{Base: 10 * time.Millisecond, MaxRetries: 3, Jitter: time.Hour}

	for i := 0; i < 100; i++ {
		d := p.Delay(0)
		if d >= 2*p.Base {
			t.Fatalf("Delay(0) = %v exceeds clamped jitter bound %v", d, 2*p.Base)
		}
	}
}

func TestRetryPolicy_IsExhausted(t *testing.T) {
	p := RetryPolicy{Base: time.Second, MaxRetries: 3}

	tests := []struct {
		retryCount int
		want       bool
	}{
		{0, false},
		{2, false},
		{3, true},
		{4, true},
	}

	for _, tt := range tests {
		if got := p.IsExhausted(tt.retryCount); got != tt.want {
			t.Errorf("IsExhausted(%d) = %v, want %v", tt.retryCount, got, tt.want)
		}
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	if p.Base != time.Second {
		t.Errorf("Base = %v, want 1s", p.Base)
	}
	if p.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", p.MaxRetries)
	}
}
