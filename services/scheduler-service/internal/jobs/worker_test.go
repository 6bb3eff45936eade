package jobs

import (
	"testing"
	"time"
)

func TestRetryBackoffDoubles(t *testing.T) {
	base := time.Minute
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{4, 8 * time.Minute},
	}
	for _, c := range cases {
		if got := retryBackoff(base, c.attempts); got != c.want {
			t.Fatalf("attempts=%d: got %v, want %v", c.attempts, got, c.want)
		}
	}
}

func TestRetryBackoffCapped(t *testing.T) {
	if got := retryBackoff(time.Minute, 20); got != time.Hour {
		t.Fatalf("expected cap at 1h, got %v", got)
	}
}
