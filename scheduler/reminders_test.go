package scheduler

import (
	"testing"
	"time"
)

func TestDueThreshold(t *testing.T) {
	thresholds := []int{24, 12, 6, 2, 1}

	cases := []struct {
		name      string
		remaining time.Duration
		want      int
		wantOK    bool
	}{
		{"five hours left selects six", 5 * time.Hour, 6, true},
		{"exactly at threshold", 12 * time.Hour, 12, true},
		{"just under largest", 23 * time.Hour, 24, true},
		{"thirty minutes selects one", 30 * time.Minute, 1, true},
		{"beyond all thresholds", 25 * time.Hour, 0, false},
		{"deadline passed", -time.Minute, 0, false},
		{"zero remaining", 0, 0, false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, ok := DueThreshold(thresholds, c.remaining)
			if ok != c.wantOK || got != c.want {
				t.Fatalf("DueThreshold(%v) = (%d, %v), want (%d, %v)", c.remaining, got, ok, c.want, c.wantOK)
			}
		})
	}
}
