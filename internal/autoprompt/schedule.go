package autoprompt

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/openguenther/guenther/internal/config"
	"github.com/openguenther/guenther/pkg/models"
)

// nextFire computes the next fire time after now for a schedule. All
// wall-clock schedules run in UTC; interval schedules fire one interval
// after arming.
func nextFire(s models.Schedule, now time.Time) (time.Time, error) {
	switch s.Kind {
	case models.ScheduleInterval:
		if s.IntervalMinutes <= 0 {
			return time.Time{}, fmt.Errorf("interval_minutes must be positive")
		}
		return now.Add(time.Duration(s.IntervalMinutes) * time.Minute), nil
	case models.ScheduleDaily:
		return cronNext(s.TimeOfDay, -1, now)
	case models.ScheduleWeekly:
		if s.Weekday < 0 || s.Weekday > 6 {
			return time.Time{}, fmt.Errorf("weekday out of range: %d", s.Weekday)
		}
		// Stored weekday counts 0=Monday; cron counts 0=Sunday.
		return cronNext(s.TimeOfDay, (s.Weekday+1)%7, now)
	default:
		return time.Time{}, fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
}

// cronNext arms a daily (dow < 0) or weekly cron expression in UTC.
func cronNext(timeOfDay string, dow int, now time.Time) (time.Time, error) {
	hour, minute, err := config.ParseTimeOfDay(timeOfDay)
	if err != nil {
		return time.Time{}, err
	}

	expr := fmt.Sprintf("%d %d * * *", minute, hour)
	if dow >= 0 {
		expr = fmt.Sprintf("%d %d * * %d", minute, hour, dow)
	}
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid schedule: %w", err)
	}
	return schedule.Next(now.In(time.UTC)), nil
}
