package repository

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"strings"
)

const tsColumn = "timestamp_utc_ms"

// statsReader runs the report queries on a pool or inside one transaction.
type statsReader struct {
	q querier
}

// noData is reported as the busiest day of an empty store.
const noData = "N/A"

var (
	countIn = func(pred string) string {
		return "SUM(CASE WHEN " + pred + " THEN 1 ELSE 0 END)"
	}
	botsIn = func(pred string) string {
		return "SUM(CASE WHEN " + pred + " AND is_bot = 1 THEN 1 ELSE 0 END)"
	}
	distinctIPsIn = func(pred string) string {
		return "COUNT(DISTINCT CASE WHEN " + pred + " THEN ip END)"
	}
)

// columns renders agg once per window as name_1d, name_7d, name_30d.
func (w Windows) columns(name string, agg func(pred string) string) (string, []any) {
	pred := tsColumn + " >= ?"
	cols := strings.Join([]string{
		agg(pred) + " AS " + name + "_1d",
		agg(pred) + " AS " + name + "_7d",
		agg(pred) + " AS " + name + "_30d",
	}, ", ")
	return cols, []any{w.Day.UnixMilli(), w.Week.UnixMilli(), w.Month.UnixMilli()}
}

// where builds the WHERE clause for scope plus any extra conditions.
func (s Scope) where(conds []string, args []any) (string, []any) {
	if s.Host != "" {
		conds = append(conds, "host_id = (SELECT id FROM hosts WHERE hostname = ?)")
		args = append(args, s.Host)
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// inMonth limits a windowed query to rows that can count toward any window.
func (w Windows) inMonth() ([]string, []any) {
	return []string{tsColumn + " >= ?"}, []any{w.Month.UnixMilli()}
}

func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func (r statsReader) UserAgentStats(ctx context.Context, scope Scope, w Windows, limit int) ([]UserAgentStat, error) {
	cols, args := w.columns("requests", countIn)
	conds, condArgs := w.inMonth()
	where, args := scope.where(conds, append(args, condArgs...))
	rows, err := r.q.QueryContext(ctx, `
		SELECT user_agent, is_bot, `+cols+`
		FROM entries`+where+`
		GROUP BY user_agent, is_bot
		HAVING requests_30d > 0
		ORDER BY requests_30d DESC, user_agent ASC, is_bot ASC
		LIMIT ?`, append(args, sqlLimit(limit))...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := []UserAgentStat{}
	for rows.Next() {
		var s UserAgentStat
		if err := rows.Scan(&s.UserAgent, &s.IsBot, &s.Requests.Day, &s.Requests.Week, &s.Requests.Month); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

func (r statsReader) PageStats(ctx context.Context, scope Scope, w Windows, limit int) ([]PageStat, error) {
	reqCols, args := w.columns("requests", countIn)
	ipCols, ipArgs := w.columns("ips", distinctIPsIn)
	botCols, botArgs := w.columns("bots", botsIn)
	args = append(append(args, ipArgs...), botArgs...)
	conds, condArgs := w.inMonth()
	where, args := scope.where(conds, append(args, condArgs...))

	rows, err := r.q.QueryContext(ctx, `
		SELECT path, `+reqCols+`, `+ipCols+`, `+botCols+`
		FROM entries`+where+`
		GROUP BY path
		HAVING requests_30d > 0
		ORDER BY requests_30d DESC, path ASC
		LIMIT ?`, append(args, sqlLimit(limit))...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := []PageStat{}
	for rows.Next() {
		var s PageStat
		err := rows.Scan(&s.Path,
			&s.Requests.Day, &s.Requests.Week, &s.Requests.Month,
			&s.UniqueIPs.Day, &s.UniqueIPs.Week, &s.UniqueIPs.Month,
			&s.BotRequests.Day, &s.BotRequests.Week, &s.BotRequests.Month)
		if err != nil {
			return nil, err
		}
		s.NonBotRequests = s.Requests.minus(s.BotRequests)
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

func (r statsReader) ReferrerStats(ctx context.Context, scope Scope, w Windows, limit int) ([]ReferrerStat, error) {
	cols, args := w.columns("requests", countIn)
	conds, condArgs := w.inMonth()
	conds = append(conds, "referrer NOT IN ('', '-')")
	where, args := scope.where(conds, append(args, condArgs...))

	rows, err := r.q.QueryContext(ctx, `
		SELECT referrer, `+cols+`
		FROM entries`+where+`
		GROUP BY referrer
		HAVING requests_30d > 0
		ORDER BY requests_30d DESC, referrer ASC
		LIMIT ?`, append(args, sqlLimit(limit))...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := []ReferrerStat{}
	for rows.Next() {
		var s ReferrerStat
		if err := rows.Scan(&s.Referrer, &s.Requests.Day, &s.Requests.Week, &s.Requests.Month); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

func (r statsReader) ErrorStats(ctx context.Context, scope Scope, w Windows, limit int) ([]ErrorStat, error) {
	cols, args := w.columns("requests", countIn)
	conds, condArgs := w.inMonth()
	conds = append(conds, "status >= 400")
	where, args := scope.where(conds, append(args, condArgs...))

	rows, err := r.q.QueryContext(ctx, `
		SELECT path, status, `+cols+`
		FROM entries`+where+`
		GROUP BY path, status
		HAVING requests_30d > 0
		ORDER BY requests_30d DESC, path ASC, status ASC
		LIMIT ?`, append(args, sqlLimit(limit))...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := []ErrorStat{}
	for rows.Next() {
		var s ErrorStat
		if err := rows.Scan(&s.Path, &s.Status, &s.Requests.Day, &s.Requests.Week, &s.Requests.Month); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// BandwidthStats returns the most recent days calendar dates that have data,
// newest first. It covers all history, not a rolling window.
func (r statsReader) BandwidthStats(ctx context.Context, scope Scope, days int) ([]BandwidthStat, error) {
	where, args := scope.where(nil, nil)
	rows, err := r.q.QueryContext(ctx, `
		SELECT date_only, COALESCE(SUM(size), 0), COUNT(*)
		FROM entries`+where+`
		GROUP BY date_only
		ORDER BY date_only DESC
		LIMIT ?`, append(args, sqlLimit(days))...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := []BandwidthStat{}
	for rows.Next() {
		var s BandwidthStat
		if err := rows.Scan(&s.Date, &s.Bytes, &s.Requests); err != nil {
			return nil, err
		}
		s.AvgSize = roundedMean(s.Bytes, s.Requests)
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// TopIPs ranks addresses by 30 day traffic. The bot flag is an OR over the
// address's entire history rather than over the windows.
func (r statsReader) TopIPs(ctx context.Context, scope Scope, w Windows, limit int) ([]IPStat, error) {
	cols, args := w.columns("requests", countIn)
	where, args := scope.where(nil, args)
	rows, err := r.q.QueryContext(ctx, `
		SELECT ip, `+cols+`, MAX(is_bot)
		FROM entries`+where+`
		GROUP BY ip
		HAVING requests_30d > 0
		ORDER BY requests_30d DESC, ip ASC
		LIMIT ?`, append(args, sqlLimit(limit))...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := []IPStat{}
	for rows.Next() {
		var s IPStat
		if err := rows.Scan(&s.IP, &s.Requests.Day, &s.Requests.Week, &s.Requests.Month, &s.IsBot); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

func (r statsReader) Summary(ctx context.Context, scope Scope) (*Summary, error) {
	where, args := scope.where(nil, nil)
	s := &Summary{BusiestDay: noData, TotalStatusCodeCounts: []StatusCount{}}

	var bots int64
	err := r.q.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT ip), COALESCE(SUM(size), 0), COALESCE(SUM(is_bot), 0)
		FROM entries`+where, args...).Scan(&s.TotalRequests, &s.UniqueIPs, &s.TotalBytes, &bots)
	if err != nil {
		return nil, err
	}
	s.AvgSize = roundedMean(s.TotalBytes, s.TotalRequests)
	if s.TotalRequests > 0 {
		s.BotPercent = int(math.Round(float64(bots) * 100 / float64(s.TotalRequests)))
	}

	err = r.q.QueryRowContext(ctx, `
		SELECT date_only, COUNT(*) AS c
		FROM entries`+where+`
		GROUP BY date_only
		ORDER BY c DESC, date_only DESC
		LIMIT 1`, args...).Scan(&s.BusiestDay, &s.BusiestDayRequests)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT status, COUNT(*) AS c
		FROM entries`+where+`
		GROUP BY status
		ORDER BY c DESC, status ASC
		LIMIT 10`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var sc StatusCount
		if err := rows.Scan(&sc.Status, &sc.Count); err != nil {
			return nil, err
		}
		s.TotalStatusCodeCounts = append(s.TotalStatusCodeCounts, sc)
	}
	return s, rows.Err()
}

func roundedMean(total, n int64) int64 {
	if n == 0 {
		return 0
	}
	return int64(math.Round(float64(total) / float64(n)))
}
