package intent

import (
	"fmt"
	"time"
)

// ErrBadTimeframe marks an unparseable timeframe; callers surface it as
// a clarification_needed intent, never as a hard failure.
type ErrBadTimeframe struct {
	Reason string
}

func (e *ErrBadTimeframe) Error() string {
	return fmt.Sprintf("bad timeframe: %s", e.Reason)
}

// DateRange resolves a timeframe to a concrete [from, to] range:
//
//	today      -> [local midnight today, now]
//	yesterday  -> [midnight yesterday, 23:59:59.999 yesterday]
//	this week  -> [most recent Sunday midnight, now]
//	N units    -> [now - N units, now]
//
// A nil timeframe defaults to the trailing 24 hours.
func DateRange(tf *Timeframe, now time.Time) (time.Time, time.Time, error) {
	if tf == nil {
		return now.Add(-24 * time.Hour), now, nil
	}

	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	switch tf.Relative {
	case RelativeToday:
		return midnight, now, nil
	case RelativeYesterday:
		start := midnight.AddDate(0, 0, -1)
		end := midnight.Add(-time.Millisecond)
		return start, end, nil
	case RelativeFuture:
		return time.Time{}, time.Time{}, &ErrBadTimeframe{Reason: "future ranges have no messages"}
	}

	if tf.Value < 0 {
		return time.Time{}, time.Time{}, &ErrBadTimeframe{Reason: "negative value"}
	}

	// "This week" arrives as a one-week past range and anchors to the
	// most recent Sunday midnight rather than a rolling 7 days.
	if tf.Unit == UnitWeeks && tf.Value <= 1 {
		daysSinceSunday := int(now.Weekday())
		sunday := midnight.AddDate(0, 0, -daysSinceSunday)
		return sunday, now, nil
	}

	value := tf.Value
	if value == 0 {
		value = 1
	}

	var dur time.Duration
	switch tf.Unit {
	case UnitMinutes:
		dur = time.Duration(value) * time.Minute
	case UnitHours:
		dur = time.Duration(value) * time.Hour
	case UnitDays:
		dur = time.Duration(value) * 24 * time.Hour
	case UnitWeeks:
		dur = time.Duration(value) * 7 * 24 * time.Hour
	default:
		return time.Time{}, time.Time{}, &ErrBadTimeframe{Reason: fmt.Sprintf("unknown unit %q", tf.Unit)}
	}
	return now.Add(-dur), now, nil
}
