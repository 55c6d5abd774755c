package models

import "strings"

const (
	TaskStatusTodo       = "todo"
	TaskStatusInProgress = "in_progress"
	TaskStatusDone       = "done"
	TaskStatusCancelled  = "cancelled"
)

const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

const (
	PersonStatusActive = "active"
)

const EventTypeMeeting = "meeting"

const (
	PlatformTelegram = "telegram"
	PlatformWhatsApp = "whatsapp"
)

const (
	NotificationApproval = "approval"
	NotificationSync     = "sync"
)

const (
	// MaxFieldLength caps imported string columns.
	MaxFieldLength = 255

	// DefaultStateTTL keeps chat state in Redis for a day.
	DefaultStateTTL = 24 * 60 * 60

	// RateLimitMessages is the number of chat messages allowed per window.
	RateLimitMessages = 20

	// RateLimitWindow is the chat rate limit window in seconds.
	RateLimitWindow = 60

	DefaultPlan = "free"
)

var (
	TaskStatuses     = []string{TaskStatusTodo, TaskStatusInProgress, TaskStatusDone, TaskStatusCancelled}
	Priorities       = []string{PriorityLow, PriorityMedium, PriorityHigh}
	PersonStatuses   = []string{"active", "inactive", "prospect", "lead", "customer", "partner"}
	Genders          = []string{"male", "female", "other", "prefer_not_to_say"}
	JobStatuses      = []string{"employed", "unemployed", "self_employed", "student", "retired"}
	MessagingTargets = []string{PlatformTelegram, PlatformWhatsApp}
)

// OneOf reports whether v is in the allowed set.
func OneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// NormalizeTaskStatus maps chat and legacy synonyms onto the canonical task
// statuses. The second return value is false for unknown input.
func NormalizeTaskStatus(raw string) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.Trim(s, ".!")
	switch s {
	case "done", "completed", "complete", "finished":
		return TaskStatusDone, true
	case "in progress", "in_progress", "in-progress", "started", "doing":
		return TaskStatusInProgress, true
	case "todo", "to do", "to-do", "open", "pending":
		return TaskStatusTodo, true
	case "cancelled", "canceled", "cancel":
		return TaskStatusCancelled, true
	}
	return "", false
}
