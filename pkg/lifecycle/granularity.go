package lifecycle

import "time"

// Granularity is a rung of the progressive anonymization ladder.
type Granularity string

const (
	GranularityRaw     Granularity = "raw"
	GranularityDaily   Granularity = "daily"
	GranularityWeekly  Granularity = "weekly"
	GranularityMonthly Granularity = "monthly"
)

var ladder = []Granularity{GranularityRaw, GranularityDaily, GranularityWeekly, GranularityMonthly}

// Valid reports whether g is a rung of the ladder.
func (g Granularity) Valid() bool {
	return g.rank() >= 0
}

func (g Granularity) rank() int {
	for i, rung := range ladder {
		if rung == g {
			return i
		}
	}
	return -1
}

// Finer reports whether g is strictly below other on the ladder.
func (g Granularity) Finer(other Granularity) bool {
	return g.rank() < other.rank()
}

// Next returns the next coarser rung. The second result is false for monthly.
func (g Granularity) Next() (Granularity, bool) {
	r := g.rank()
	if r < 0 || r == len(ladder)-1 {
		return "", false
	}
	return ladder[r+1], true
}

// FirstPublished returns the first rung an aggregate may be published at
// when g is the minimum aggregation granularity. Raw rows are never published.
func (g Granularity) FirstPublished() Granularity {
	if g == "" || g == GranularityRaw {
		return GranularityDaily
	}
	return g
}

// WindowStart truncates t (in UTC) to the start of the window containing it.
// Weekly windows start on ISO Monday.
func (g Granularity) WindowStart(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	switch g {
	case GranularityDaily:
		return day
	case GranularityWeekly:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case GranularityMonthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return t
	}
}

// WindowEnd returns the exclusive end of the window starting at start.
func (g Granularity) WindowEnd(start time.Time) time.Time {
	switch g {
	case GranularityDaily:
		return start.AddDate(0, 0, 1)
	case GranularityWeekly:
		return start.AddDate(0, 0, 7)
	case GranularityMonthly:
		return start.AddDate(0, 1, 0)
	default:
		return start
	}
}
