package scheduler

import "time"

// DueThreshold picks which reminder threshold applies for the time remaining
// until auto-confirmation. Thresholds are hours in descending order; the
// smallest one the remaining time fits under wins, so 5h remaining against
// [24 12 6 2 1] selects 6. Returns false when the deadline already passed or
// no threshold applies.
func DueThreshold(thresholds []int, remaining time.Duration) (int, bool) {
	if remaining <= 0 {
		return 0, false
	}
	selected := 0
	found := false
	for _, t := range thresholds {
		if remaining <= time.Duration(t)*time.Hour {
			selected = t
			found = true
			continue
		}
		break
	}
	return selected, found
}
