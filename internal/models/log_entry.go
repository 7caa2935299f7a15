package models

import "time"

// DateLayout is the format of Record.Date.
const DateLayout = "2006-01-02"

// LogEntry is one request parsed from a combined access log line.
type LogEntry struct {
	IP           string    `json:"ip"`
	Timestamp    time.Time `json:"timestamp"` // always UTC
	Method       string    `json:"method"`
	Path         string    `json:"path"`
	Protocol     string    `json:"protocol"`
	Status       int       `json:"status"`
	Size         int64     `json:"size"`
	Referrer     string    `json:"referrer"`
	UserAgent    string    `json:"user_agent"`
	ForwardedFor string    `json:"forwarded_for,omitempty"`
}

// Record is a LogEntry as persisted: the bot flag and calendar date are
// computed once at ingest and never re-derived by queries.
type Record struct {
	LogEntry
	IsBot bool   `json:"is_bot"`
	Date  string `json:"date"`
}

// NewRecord binds the derived fields to e.
func NewRecord(e LogEntry, isBot bool) Record {
	return Record{
		LogEntry: e,
		IsBot:    isBot,
		Date:     e.Timestamp.UTC().Format(DateLayout),
	}
}

// Host is a tracked website that owns ingested entries.
type Host struct {
	ID        int64     `json:"id"`
	Hostname  string    `json:"hostname"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FileMetadata records the last processed state of a source file.
type FileMetadata struct {
	Path         string    `json:"path"`
	Hostname     string    `json:"hostname"`
	LastModified time.Time `json:"last_modified"`
	Size         int64     `json:"size"`
	ProcessedAt  time.Time `json:"processed_at"`
}

// Unchanged reports whether the file described by size and modTime matches
// what was recorded.
func (m *FileMetadata) Unchanged(size int64, modTime time.Time) bool {
	return m != nil && m.Size == size && m.LastModified.UnixMilli() == modTime.UnixMilli()
}
