package analytics

import (
	"fmt"
	"time"
)

// Granularity selects the bucket width of a rate series.
type Granularity string

const (
	Day   Granularity = "day"
	Week  Granularity = "week"
	Month Granularity = "month"
)

// bucketStart truncates t to the start of its UTC bucket. Weeks are ISO
// weeks starting on Monday; months are calendar months.
func bucketStart(g Granularity, t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	switch g {
	case Week:
		offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
		return day.AddDate(0, 0, -offset)
	case Month:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return day
}

func nextBucket(g Granularity, start time.Time) time.Time {
	switch g {
	case Week:
		return start.AddDate(0, 0, 7)
	case Month:
		return start.AddDate(0, 1, 0)
	}
	return start.AddDate(0, 0, 1)
}

func bucketLabel(g Granularity, start time.Time) string {
	switch g {
	case Week:
		year, week := start.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	case Month:
		return start.Format("2006-01")
	}
	return start.Format("2006-01-02")
}

func startOfDay(t time.Time) time.Time {
	return bucketStart(Day, t)
}
