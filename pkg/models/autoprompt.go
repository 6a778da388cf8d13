package models

import "time"

// ScheduleKind selects how an autoprompt recurs.
type ScheduleKind string

const (
	ScheduleInterval ScheduleKind = "interval"
	ScheduleDaily    ScheduleKind = "daily"
	ScheduleWeekly   ScheduleKind = "weekly"
)

// Schedule describes when an autoprompt fires. TimeOfDay is "HH:MM" in UTC.
// Weekday is 0 for Monday through 6 for Sunday.
type Schedule struct {
	Kind            ScheduleKind `json:"kind"`
	IntervalMinutes int          `json:"interval_minutes,omitempty"`
	TimeOfDay       string       `json:"time_of_day,omitempty"`
	Weekday         int          `json:"weekday,omitempty"`
}

// Autoprompt is a scheduled synthetic user turn delivered into a chat.
type Autoprompt struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Prompt    string    `json:"prompt"`
	ChatID    string    `json:"chat_id,omitempty"`
	AgentID   string    `json:"agent_id,omitempty"`
	Schedule  Schedule  `json:"schedule"`
	Enabled   bool      `json:"enabled"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
