package client

import (
	"testing"
	"time"
)

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Initial: 500 * time.Millisecond, Max: 30 * time.Second}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{-1, 500 * time.Millisecond},
		{0, 500 * time.Millisecond},
		{1, time.Second},
		{2, 2 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{40, 30 * time.Second},
	}
	for _, tc := range cases {
		if got := b.Delay(tc.attempt); got != tc.want {
			t.Errorf("Delay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestBackoffJitterStaysInRange(t *testing.T) {
	b := DefaultBackoff()
	for attempt := 0; attempt < 12; attempt++ {
		ceiling := Backoff{Initial: b.Initial, Max: b.Max}.Delay(attempt)
		floor := time.Duration(float64(ceiling) * (1 - b.Jitter))
		for i := 0; i < 50; i++ {
			got := b.Delay(attempt)
			if got < floor || got > ceiling {
				t.Fatalf("Delay(%d) = %v, want within [%v, %v]", attempt, got, floor, ceiling)
			}
			if got > b.Max {
				t.Fatalf("Delay(%d) = %v exceeds cap %v", attempt, got, b.Max)
			}
		}
	}
}
