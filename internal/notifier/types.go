package notifier

import "time"

// Config controls the async alert pipeline.
type Config struct {
	Enabled         bool
	Target          Target
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
	// NotifyOn lists bus event types that produce alerts.
	// Empty means job.failed, job.blocked and jobs.stopped.
	NotifyOn []string
}

// Target is a Telegram chat, optionally a forum thread.
type Target struct {
	ChatID   int64
	ThreadID int
}

// Notification is one alert.
type Notification struct {
	// Key groups alerts for dedup. Empty derives a key from the text.
	Key      string
	Text     string
	Priority int
	Target   Target
}

type HistoryItem struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
}

// NotificationEvent is emitted on the event bus for notifier lifecycle events.
type NotificationEvent struct {
	ChatID   int64     `json:"chatId"`
	ThreadID int       `json:"threadId,omitempty"`
	Key      string    `json:"key"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}
