package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
)

// Five-field expressions only: minute, hour, day-of-month, month,
// day-of-week. No seconds field, no @descriptors.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// due reports whether a cron expression fires on the tick's minute, evaluated
// in the given location. Ticks are minute-aligned; anything finer is
// truncated away.
func due(expr string, loc *time.Location, tick time.Time) (bool, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return false, err
	}
	minute := tick.In(loc).Truncate(time.Minute)
	return sched.Next(minute.Add(-time.Second)).Equal(minute), nil
}
