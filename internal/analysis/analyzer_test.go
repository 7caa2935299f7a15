package analysis

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xHacka/access-log-analyzer/internal/ingest"
	"github.com/xHacka/access-log-analyzer/internal/repository"
)

const samplePath = "../ingest/testdata/sample_access.log"

var testNow = time.Date(2025, time.September, 8, 0, 0, 0, 0, time.UTC)

func newTestAnalyzer(t *testing.T) (*Analyzer, *ingest.Loader) {
	t.Helper()
	repo, err := repository.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	clock := func() time.Time { return testNow }
	a := New(repo)
	a.Now = clock
	l := ingest.NewLoader(repo)
	l.Now = clock
	return a, l
}

func loadSample(t *testing.T, l *ingest.Loader, host string) {
	t.Helper()
	if _, err := l.LoadLogFile(context.Background(), samplePath, host); err != nil {
		t.Fatalf("load sample: %v", err)
	}
}

func nested(c repository.WindowCounts) bool {
	return c.Day <= c.Week && c.Week <= c.Month
}

func TestAnalyze_Sample(t *testing.T) {
	a, l := newTestAnalyzer(t)
	loadSample(t, l, "example.com")

	res, err := a.Analyze(context.Background(), Options{Limits: Limits{UserAgents: -1, Pages: -1}})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if !res.GeneratedAt.Equal(testNow) {
		t.Errorf("generated at: got %s, want %s", res.GeneratedAt, testNow)
	}

	sum := res.Summary
	if sum.TotalRequests != 121 {
		t.Errorf("total requests: got %d, want 121", sum.TotalRequests)
	}
	if len(res.TopIPs) != 1 || res.TopIPs[0].Requests.Month != 121 {
		t.Errorf("top ips: got %+v", res.TopIPs)
	}

	var uaTotal int64
	for _, ua := range res.UserAgents {
		uaTotal += ua.Requests.Month
		if !nested(ua.Requests) {
			t.Errorf("user agent %q: windows not nested: %+v", ua.UserAgent, ua.Requests)
		}
	}
	if uaTotal != sum.TotalRequests {
		t.Errorf("user agent 30d sum: got %d, want %d", uaTotal, sum.TotalRequests)
	}

	var dayTotal int64
	for _, d := range res.Bandwidth {
		dayTotal += d.Requests
	}
	if dayTotal != sum.TotalRequests {
		t.Errorf("bandwidth request sum: got %d, want %d", dayTotal, sum.TotalRequests)
	}

	var statusTotal int64
	for _, sc := range sum.TotalStatusCodeCounts {
		statusTotal += sc.Count
	}
	if statusTotal != sum.TotalRequests {
		t.Errorf("status count sum: got %d, want %d", statusTotal, sum.TotalRequests)
	}

	for _, p := range res.Pages {
		for name, pair := range map[string][3]int64{
			"1d":  {p.Requests.Day, p.BotRequests.Day, p.NonBotRequests.Day},
			"7d":  {p.Requests.Week, p.BotRequests.Week, p.NonBotRequests.Week},
			"30d": {p.Requests.Month, p.BotRequests.Month, p.NonBotRequests.Month},
		} {
			if pair[0] != pair[1]+pair[2] {
				t.Errorf("page %q %s: %d != %d bot + %d non-bot", p.Path, name, pair[0], pair[1], pair[2])
			}
		}
		if !nested(p.Requests) || !nested(p.UniqueIPs) {
			t.Errorf("page %q: windows not nested", p.Path)
		}
	}
	for _, r := range res.Referrers {
		if r.Referrer == "" || r.Referrer == "-" {
			t.Errorf("placeholder referrer reported: %+v", r)
		}
	}
	for _, e := range res.Errors {
		if e.Status < 400 {
			t.Errorf("error stat with status %d", e.Status)
		}
	}
}

func TestAnalyze_ReconcilesDuringConcurrentLoads(t *testing.T) {
	a, l := newTestAnalyzer(t)
	loadSample(t, l, "example.com")
	ctx := context.Background()

	lines := make([]string, 50)
	for i := range lines {
		ua := "Mozilla/5.0"
		if i%3 == 0 {
			ua = "curl/8.0"
		}
		lines[i] = fmt.Sprintf(`10.1.0.%d - - [0%d/Sep/2025:10:%02d:00 -0700] "GET /batch/%d HTTP/1.1" 200 %d "-" "%s"`,
			i, 1+i%6, i, i%7, 100+i, ua)
	}
	batch := strings.Join(lines, "\n")

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, err := l.LoadReader(ctx, strings.NewReader(batch), "example.com", "batch"); err != nil {
				t.Errorf("concurrent load: %v", err)
				return
			}
		}
	}()
	defer func() {
		close(stop)
		wg.Wait()
	}()

	for i := 0; i < 20; i++ {
		res, err := a.Analyze(ctx, Options{Limits: Limits{UserAgents: -1, BandwidthDays: -1}})
		if err != nil {
			t.Fatalf("analyze %d: %v", i, err)
		}
		var uaTotal, dayTotal, statusTotal int64
		for _, ua := range res.UserAgents {
			uaTotal += ua.Requests.Month
		}
		for _, d := range res.Bandwidth {
			dayTotal += d.Requests
		}
		for _, sc := range res.Summary.TotalStatusCodeCounts {
			statusTotal += sc.Count
		}
		total := res.Summary.TotalRequests
		if uaTotal != total || dayTotal != total || statusTotal != total {
			t.Errorf("analyze %d: user agents %d, bandwidth %d, statuses %d, summary %d", i, uaTotal, dayTotal, statusTotal, total)
		}
	}
}

func TestAnalyze_Limits(t *testing.T) {
	a, l := newTestAnalyzer(t)
	loadSample(t, l, "example.com")

	res, err := a.Analyze(context.Background(), Options{Limits: Limits{Pages: 1, BandwidthDays: 2}})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(res.Pages) != 1 {
		t.Errorf("pages: got %d rows, want 1", len(res.Pages))
	}
	if len(res.Bandwidth) != 2 {
		t.Fatalf("bandwidth: got %d rows, want 2", len(res.Bandwidth))
	}
	if res.Bandwidth[0].Date != "2025-09-07" {
		t.Errorf("bandwidth: newest day got %s, want 2025-09-07", res.Bandwidth[0].Date)
	}

	all, err := a.Analyze(context.Background(), Options{Limits: Limits{Pages: -1}})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	// Truncation happens after ranking: the single row is the overall top page.
	if res.Pages[0] != all.Pages[0] {
		t.Errorf("top page: got %+v, want %+v", res.Pages[0], all.Pages[0])
	}
}

func TestAnalyze_HostScope(t *testing.T) {
	a, l := newTestAnalyzer(t)
	loadSample(t, l, "example.com")
	loadSample(t, l, "example.org")
	ctx := context.Background()

	all, err := a.Analyze(ctx, Options{})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if all.Summary.TotalRequests != 242 {
		t.Errorf("all hosts: got %d, want 242", all.Summary.TotalRequests)
	}

	one, err := a.Analyze(ctx, Options{Host: "example.org"})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if one.Summary.TotalRequests != 121 || one.Host != "example.org" {
		t.Errorf("example.org: got %d requests for %q", one.Summary.TotalRequests, one.Host)
	}

	none, err := a.Analyze(ctx, Options{Host: "unknown.net"})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if none.Summary.TotalRequests != 0 || len(none.TopIPs) != 0 {
		t.Errorf("unknown host: got %+v", none.Summary)
	}
}

func TestClear(t *testing.T) {
	a, l := newTestAnalyzer(t)
	loadSample(t, l, "example.com")
	ctx := context.Background()

	if err := a.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	hosts, err := a.Hosts(ctx)
	if err != nil {
		t.Fatalf("hosts: %v", err)
	}
	if len(hosts) != 0 {
		t.Errorf("hosts: got %d, want 0", len(hosts))
	}

	res, err := a.Analyze(ctx, Options{})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if n := len(res.UserAgents) + len(res.Pages) + len(res.Referrers) + len(res.Errors) + len(res.Bandwidth) + len(res.TopIPs); n != 0 {
		t.Errorf("reports: got %d rows, want 0", n)
	}
	sum := res.Summary
	if sum.TotalRequests != 0 || sum.UniqueIPs != 0 || sum.TotalBytes != 0 || sum.AvgSize != 0 || sum.BotPercent != 0 {
		t.Errorf("summary: got %+v", sum)
	}
	if sum.BusiestDay != "N/A" || len(sum.TotalStatusCodeCounts) != 0 {
		t.Errorf("summary: busiest %q, statuses %v", sum.BusiestDay, sum.TotalStatusCodeCounts)
	}
}

func TestHosts_Ordered(t *testing.T) {
	a, l := newTestAnalyzer(t)
	loadSample(t, l, "zeta.example")
	loadSample(t, l, "alpha.example")

	hosts, err := a.Hosts(context.Background())
	if err != nil {
		t.Fatalf("hosts: %v", err)
	}
	if len(hosts) != 2 || hosts[0].Hostname != "alpha.example" || hosts[1].Hostname != "zeta.example" {
		t.Errorf("hosts: got %+v", hosts)
	}
}
