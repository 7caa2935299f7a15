package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/xHacka/access-log-analyzer/internal/models"
)

var testNow = time.Date(2025, time.September, 7, 0, 0, 0, 0, time.UTC)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func record(ip string, ts time.Time, path string, status int, size int64, referrer, ua string, isBot bool) models.Record {
	return models.NewRecord(models.LogEntry{
		IP:        ip,
		Timestamp: ts,
		Method:    "GET",
		Path:      path,
		Protocol:  "HTTP/1.1",
		Status:    status,
		Size:      size,
		Referrer:  referrer,
		UserAgent: ua,
	}, isBot)
}

func TestUpsertHost_CreatesOnceAndBumpsUpdatedAt(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	first, err := upsertHost(ctx, repo.db, "example.com", testNow)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	// Same instant: updated_at must still move forward.
	second, err := upsertHost(ctx, repo.db, "example.com", testNow)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("id: got %d, want %d", second.ID, first.ID)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("created_at changed: %s -> %s", first.CreatedAt, second.CreatedAt)
	}
	if !second.UpdatedAt.After(first.UpdatedAt) {
		t.Errorf("updated_at not strictly later: %s -> %s", first.UpdatedAt, second.UpdatedAt)
	}

	hosts, err := repo.Hosts(ctx)
	if err != nil {
		t.Fatalf("hosts: %v", err)
	}
	if len(hosts) != 1 {
		t.Fatalf("hosts: got %d rows, want 1", len(hosts))
	}
}

func TestHosts_OrderedByHostname(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	for _, h := range []string{"zeta.org", "Alpha.com", "alpha.com"} {
		if _, err := upsertHost(ctx, repo.db, h, testNow); err != nil {
			t.Fatalf("upsert %s: %v", h, err)
		}
	}
	hosts, err := repo.Hosts(ctx)
	if err != nil {
		t.Fatalf("hosts: %v", err)
	}
	want := []string{"Alpha.com", "alpha.com", "zeta.org"}
	if len(hosts) != len(want) {
		t.Fatalf("hosts: got %d, want %d", len(hosts), len(want))
	}
	for i, h := range hosts {
		if h.Hostname != want[i] {
			t.Errorf("hosts[%d]: got %q, want %q", i, h.Hostname, want[i])
		}
	}
}

func TestImportBatch_PersistsDerivedFields(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	ts := time.Date(2025, time.September, 6, 23, 30, 0, 0, time.UTC)
	recs := []models.Record{
		record("10.0.0.1", ts, "/", 200, 100, "", "curl/8.0", true),
		record("10.0.0.2", ts, "/a", 404, 0, "https://ref.example/", "Mozilla/5.0", false),
	}
	recs[0].ForwardedFor = "1.2.3.4"

	host, err := repo.ImportBatch(ctx, "example.com", recs, testNow)
	if err != nil {
		t.Fatalf("import: %v", err)
	}

	var count, bots int
	var date string
	var fwd *string
	err = repo.db.QueryRow("SELECT COUNT(*), SUM(is_bot), MIN(date_only) FROM entries WHERE host_id = ?", host.ID).Scan(&count, &bots, &date)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if count != 2 || bots != 1 {
		t.Errorf("count/bots: got (%d,%d), want (2,1)", count, bots)
	}
	if date != "2025-09-06" {
		t.Errorf("date_only: got %q", date)
	}
	err = repo.db.QueryRow("SELECT forwarded_for FROM entries WHERE ip = '10.0.0.2'").Scan(&fwd)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if fwd != nil {
		t.Errorf("forwarded_for: got %q, want NULL", *fwd)
	}
}

func TestImportBatch_RollsBackOnFailure(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	ts := testNow.Add(-time.Hour)
	if _, err := repo.ImportBatch(ctx, "example.com", []models.Record{record("10.0.0.1", ts, "/", 200, 1, "", "ua", false)}, testNow); err != nil {
		t.Fatalf("import: %v", err)
	}
	_, err := repo.db.Exec(`CREATE TRIGGER reject_boom BEFORE INSERT ON entries
		WHEN NEW.path = '/boom' BEGIN SELECT RAISE(ABORT, 'rejected'); END`)
	if err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	// The last row fails: neither the earlier rows nor the new host may persist.
	recs := []models.Record{
		record("10.0.0.2", ts, "/", 200, 1, "", "ua", false),
		record("10.0.0.3", ts, "/", 200, 1, "", "ua", false),
		record("10.0.0.4", ts, "/boom", 200, 1, "", "ua", false),
	}
	if _, err := repo.ImportBatch(ctx, "other.org", recs, testNow); err == nil {
		t.Fatal("expected insert error")
	}

	sum, err := repo.Summary(ctx, Scope{})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.TotalRequests != 1 {
		t.Errorf("total requests: got %d, want 1", sum.TotalRequests)
	}
	hosts, err := repo.Hosts(ctx)
	if err != nil {
		t.Fatalf("hosts: %v", err)
	}
	if len(hosts) != 1 || hosts[0].Hostname != "example.com" {
		t.Errorf("hosts: got %+v", hosts)
	}
}

func TestSnapshot_IgnoresLaterCommits(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	ts := testNow.Add(-time.Hour)
	if _, err := repo.ImportBatch(ctx, "example.com", []models.Record{record("10.0.0.1", ts, "/", 200, 1, "", "ua", false)}, testNow); err != nil {
		t.Fatalf("import: %v", err)
	}

	var before, after int64
	err := repo.Snapshot(ctx, func(s StatsRepository) error {
		sum, err := s.Summary(ctx, Scope{})
		if err != nil {
			return err
		}
		before = sum.TotalRequests
		// A write that commits mid-snapshot must stay invisible to it.
		if _, err := repo.ImportBatch(ctx, "example.com", []models.Record{record("10.0.0.2", ts, "/", 200, 1, "", "ua", false)}, testNow); err != nil {
			return err
		}
		days, err := s.BandwidthStats(ctx, Scope{}, 0)
		if err != nil {
			return err
		}
		for _, d := range days {
			after += d.Requests
		}
		return nil
	})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if before != 1 || after != 1 {
		t.Errorf("inside snapshot: got summary %d and bandwidth %d, want 1 and 1", before, after)
	}

	sum, err := repo.Summary(ctx, Scope{})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.TotalRequests != 2 {
		t.Errorf("after snapshot: got %d, want 2", sum.TotalRequests)
	}
}

func TestClear_EmptiesEverything(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	ts := testNow.Add(-time.Hour)
	if _, err := repo.ImportBatch(ctx, "example.com", []models.Record{record("10.0.0.1", ts, "/", 500, 10, "https://r/", "ua", false)}, testNow); err != nil {
		t.Fatalf("import: %v", err)
	}
	if err := repo.RecordFile(ctx, models.FileMetadata{Path: "/var/log/a.log", Hostname: "example.com", LastModified: ts, Size: 10, ProcessedAt: testNow}); err != nil {
		t.Fatalf("record file: %v", err)
	}

	if err := repo.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}

	hosts, err := repo.Hosts(ctx)
	if err != nil {
		t.Fatalf("hosts: %v", err)
	}
	if len(hosts) != 0 {
		t.Errorf("hosts: got %d, want 0", len(hosts))
	}
	meta, err := repo.FileMetadata(ctx, "/var/log/a.log")
	if err != nil {
		t.Fatalf("file metadata: %v", err)
	}
	if meta != nil {
		t.Errorf("file metadata: got %+v, want nil", meta)
	}
	sum, err := repo.Summary(ctx, Scope{})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.TotalRequests != 0 || sum.BusiestDay != "N/A" || len(sum.TotalStatusCodeCounts) != 0 {
		t.Errorf("summary after clear: %+v", sum)
	}
}

func TestFileMetadata_Upsert(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	mod := time.Date(2025, time.September, 6, 12, 0, 0, 0, time.UTC)
	meta := models.FileMetadata{Path: "/var/log/a.log", Hostname: "a.com", LastModified: mod, Size: 100, ProcessedAt: testNow}
	if err := repo.RecordFile(ctx, meta); err != nil {
		t.Fatalf("record: %v", err)
	}
	meta.Size = 200
	meta.Hostname = "b.com"
	if err := repo.RecordFile(ctx, meta); err != nil {
		t.Fatalf("record again: %v", err)
	}

	got, err := repo.FileMetadata(ctx, "/var/log/a.log")
	if err != nil {
		t.Fatalf("file metadata: %v", err)
	}
	if got == nil {
		t.Fatal("file metadata missing")
	}
	if got.Size != 200 || got.Hostname != "b.com" {
		t.Errorf("got %+v", got)
	}
	if !got.Unchanged(200, mod) {
		t.Error("Unchanged: got false, want true")
	}
	if got.Unchanged(201, mod) {
		t.Error("Unchanged with different size: got true")
	}
}

func TestDeleteOlderThan_KeepsHosts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	recs := []models.Record{
		record("10.0.0.1", testNow.Add(-40*24*time.Hour), "/old", 200, 1, "", "ua", false),
		record("10.0.0.1", testNow.Add(-time.Hour), "/new", 200, 1, "", "ua", false),
	}
	if _, err := repo.ImportBatch(ctx, "example.com", recs, testNow); err != nil {
		t.Fatalf("import: %v", err)
	}
	n, err := repo.DeleteOlderThan(ctx, testNow.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted: got %d, want 1", n)
	}
	hosts, err := repo.Hosts(ctx)
	if err != nil {
		t.Fatalf("hosts: %v", err)
	}
	if len(hosts) != 1 {
		t.Errorf("hosts: got %d, want 1", len(hosts))
	}
}
