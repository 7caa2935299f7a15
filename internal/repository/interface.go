package repository

import (
	"context"
	"time"

	"github.com/xHacka/access-log-analyzer/internal/models"
)

// Scope narrows report queries. An empty Host covers every tracked host.
type Scope struct {
	Host string
}

// Windows holds the inclusive lower bounds of the rolling report windows.
type Windows struct {
	Day   time.Time
	Week  time.Time
	Month time.Time
}

// NewWindows anchors the 1, 7 and 30 day windows to now.
func NewWindows(now time.Time) Windows {
	const day = 24 * time.Hour
	return Windows{
		Day:   now.Add(-1 * day),
		Week:  now.Add(-7 * day),
		Month: now.Add(-30 * day),
	}
}

// WindowCounts holds one count per rolling window.
type WindowCounts struct {
	Day   int64 `json:"1d"`
	Week  int64 `json:"7d"`
	Month int64 `json:"30d"`
}

func (c WindowCounts) minus(o WindowCounts) WindowCounts {
	return WindowCounts{Day: c.Day - o.Day, Week: c.Week - o.Week, Month: c.Month - o.Month}
}

type UserAgentStat struct {
	UserAgent string       `json:"user_agent"`
	IsBot     bool         `json:"is_bot"`
	Requests  WindowCounts `json:"requests"`
}

type PageStat struct {
	Path           string       `json:"path"`
	Requests       WindowCounts `json:"requests"`
	UniqueIPs      WindowCounts `json:"unique_ips"`
	BotRequests    WindowCounts `json:"bot_requests"`
	NonBotRequests WindowCounts `json:"non_bot_requests"`
}

type ReferrerStat struct {
	Referrer string       `json:"referrer"`
	Requests WindowCounts `json:"requests"`
}

type ErrorStat struct {
	Path     string       `json:"path"`
	Status   int          `json:"status"`
	Requests WindowCounts `json:"requests"`
}

// BandwidthStat is one calendar day (UTC) of traffic.
type BandwidthStat struct {
	Date     string `json:"date"`
	Bytes    int64  `json:"bytes"`
	Requests int64  `json:"requests"`
	AvgSize  int64  `json:"avg_size"`
}

type IPStat struct {
	IP           string       `json:"ip"`
	Requests     WindowCounts `json:"requests"`
	IsBot        bool         `json:"is_bot"` // any request from this IP, ever
	Organization string       `json:"organization,omitempty"`
}

type StatusCount struct {
	Status int   `json:"status"`
	Count  int64 `json:"count"`
}

type Summary struct {
	TotalRequests         int64         `json:"total_requests"`
	UniqueIPs             int64         `json:"unique_ips"`
	TotalBytes            int64         `json:"total_bytes"`
	AvgSize               int64         `json:"avg_size"`
	BotPercent            int           `json:"bot_percent"`
	BusiestDay            string        `json:"busiest_day"`
	BusiestDayRequests    int64         `json:"busiest_day_requests"`
	TotalStatusCodeCounts []StatusCount `json:"total_status_code_counts"`
}

// LogRepository is the write side of the store: hosts, entries and file bookkeeping.
type LogRepository interface {
	// ImportBatch creates or bumps the host and inserts records in one
	// transaction: all rows commit or none do.
	ImportBatch(ctx context.Context, hostname string, records []models.Record, at time.Time) (*models.Host, error)
	Hosts(ctx context.Context) ([]models.Host, error)
	Clear(ctx context.Context) error
	RecordFile(ctx context.Context, meta models.FileMetadata) error
	FileMetadata(ctx context.Context, path string) (*models.FileMetadata, error)
	DeleteOlderThan(ctx context.Context, t time.Time) (int64, error)
}

// StatsRepository answers the aggregate report queries. A limit <= 0 returns
// every row; limits are always applied after ranking.
type StatsRepository interface {
	UserAgentStats(ctx context.Context, scope Scope, w Windows, limit int) ([]UserAgentStat, error)
	PageStats(ctx context.Context, scope Scope, w Windows, limit int) ([]PageStat, error)
	ReferrerStats(ctx context.Context, scope Scope, w Windows, limit int) ([]ReferrerStat, error)
	ErrorStats(ctx context.Context, scope Scope, w Windows, limit int) ([]ErrorStat, error)
	BandwidthStats(ctx context.Context, scope Scope, days int) ([]BandwidthStat, error)
	TopIPs(ctx context.Context, scope Scope, w Windows, limit int) ([]IPStat, error)
	Summary(ctx context.Context, scope Scope) (*Summary, error)
}

// Snapshotter runs several report queries against one consistent view.
type Snapshotter interface {
	Snapshot(ctx context.Context, fn func(StatsRepository) error) error
}
