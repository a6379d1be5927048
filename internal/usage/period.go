package usage

import "time"

// Bucket intervals supported for metering periods.
const (
	BucketHour  = "hour"
	BucketDay   = "day"
	BucketMonth = "month"
)

// PeriodBounds floors t to the start of its metering bucket and returns
// the half-open [start, end) window in UTC. Unknown intervals fall back
// to calendar months.
func PeriodBounds(t time.Time, interval string) (time.Time, time.Time) {
	t = t.UTC()
	switch interval {
	case BucketHour:
		start := t.Truncate(time.Hour)
		return start, start.Add(time.Hour)
	case BucketDay:
		start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 0, 1)
	default:
		start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0)
	}
}
