package routing

import (
	"strings"
	"time"

	"github.com/flowdeskhq/flowdesk/internal/models"
)

// Window is the active schedule window a gate decision was made against.
type Window struct {
	Start string
	End   string
}

// IsOpen decides whether the queue is inside business hours at now.
//
// The weekday without a schedule entry, or an entry with an empty start or
// end, imposes no restriction: the queue is treated as open. Only a complete
// entry gates, with now inside [start, end) counting as open.
func IsOpen(queue models.Queue, now time.Time) (bool, *Window) {
	entry, ok := entryFor(queue.Schedule, now.Weekday())
	if !ok {
		return true, nil
	}
	window := &Window{Start: entry.StartHour, End: entry.EndHour}

	start, err := parseClock(entry.StartHour)
	if err != nil {
		return true, nil
	}
	end, err := parseClock(entry.EndHour)
	if err != nil {
		return true, nil
	}

	minute := now.Hour()*60 + now.Minute()
	return minute >= start && minute < end, window
}

func entryFor(schedule []models.ScheduleEntry, weekday time.Weekday) (models.ScheduleEntry, bool) {
	name := strings.ToLower(weekday.String())
	for _, entry := range schedule {
		if strings.ToLower(strings.TrimSpace(entry.Weekday)) != name {
			continue
		}
		if strings.TrimSpace(entry.StartHour) == "" || strings.TrimSpace(entry.EndHour) == "" {
			continue
		}
		return entry, true
	}
	return models.ScheduleEntry{}, false
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(value string) (int, error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, err
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}
