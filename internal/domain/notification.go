package domain

import "time"

type NotificationLevel string

const (
	NotificationSuccess NotificationLevel = "success"
	NotificationError   NotificationLevel = "error"
	NotificationInfo    NotificationLevel = "info"
)

const (
	SuccessNotificationDuration = 6 * time.Second
	ErrorNotificationDuration   = 8 * time.Second
)

// Notification is a user-facing message raised by the generation controller.
type Notification struct {
	Level    NotificationLevel
	JobID    string
	Message  string
	Duration time.Duration
}
