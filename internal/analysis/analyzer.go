// Package analysis assembles the per-dimension report queries into a single
// result value and exposes host enumeration and data clearing.
package analysis

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/xHacka/access-log-analyzer/internal/models"
	"github.com/xHacka/access-log-analyzer/internal/repository"
)

// Store is everything the analyzer reads and clears.
type Store interface {
	repository.LogRepository
	repository.StatsRepository
	repository.Snapshotter
}

// Limits caps the rows returned per section. Zero selects the default and a
// negative value returns every row.
type Limits struct {
	UserAgents    int `json:"user_agents"`
	Pages         int `json:"pages"`
	Referrers     int `json:"referrers"`
	Errors        int `json:"errors"`
	IPs           int `json:"ips"`
	BandwidthDays int `json:"bandwidth_days"`
}

func DefaultLimits() Limits {
	return Limits{
		UserAgents:    20,
		Pages:         20,
		Referrers:     20,
		Errors:        20,
		IPs:           20,
		BandwidthDays: 30,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	pick := func(v, def int) int {
		if v == 0 {
			return def
		}
		return v
	}
	return Limits{
		UserAgents:    pick(l.UserAgents, d.UserAgents),
		Pages:         pick(l.Pages, d.Pages),
		Referrers:     pick(l.Referrers, d.Referrers),
		Errors:        pick(l.Errors, d.Errors),
		IPs:           pick(l.IPs, d.IPs),
		BandwidthDays: pick(l.BandwidthDays, d.BandwidthDays),
	}
}

type Options struct {
	// Host restricts every section to one hostname. Empty covers all hosts.
	Host   string
	Limits Limits
}

type AnalysisResults struct {
	GeneratedAt time.Time                  `json:"generated_at"`
	Host        string                     `json:"host,omitempty"`
	UserAgents  []repository.UserAgentStat `json:"user_agents"`
	Pages       []repository.PageStat      `json:"pages"`
	Referrers   []repository.ReferrerStat  `json:"referrers"`
	Errors      []repository.ErrorStat     `json:"errors"`
	Bandwidth   []repository.BandwidthStat `json:"bandwidth"`
	TopIPs      []repository.IPStat        `json:"top_ips"`
	Summary     *repository.Summary        `json:"summary"`
}

type Analyzer struct {
	Store Store
	Now   func() time.Time
}

func New(store Store) *Analyzer {
	return &Analyzer{Store: store, Now: time.Now}
}

func (a *Analyzer) now() time.Time {
	if a.Now == nil {
		return time.Now().UTC()
	}
	return a.Now().UTC()
}

// Analyze runs every report query against one anchor instant and one read
// snapshot, so the sections reconcile even while loads are committing.
func (a *Analyzer) Analyze(ctx context.Context, opts Options) (*AnalysisResults, error) {
	start := time.Now()
	now := a.now()
	limits := opts.Limits.withDefaults()
	scope := repository.Scope{Host: opts.Host}
	w := repository.NewWindows(now)

	res := &AnalysisResults{GeneratedAt: now, Host: opts.Host}
	err := a.Store.Snapshot(ctx, func(s repository.StatsRepository) (err error) {
		if res.UserAgents, err = s.UserAgentStats(ctx, scope, w, limits.UserAgents); err != nil {
			return err
		}
		if res.Pages, err = s.PageStats(ctx, scope, w, limits.Pages); err != nil {
			return err
		}
		if res.Referrers, err = s.ReferrerStats(ctx, scope, w, limits.Referrers); err != nil {
			return err
		}
		if res.Errors, err = s.ErrorStats(ctx, scope, w, limits.Errors); err != nil {
			return err
		}
		if res.Bandwidth, err = s.BandwidthStats(ctx, scope, limits.BandwidthDays); err != nil {
			return err
		}
		if res.TopIPs, err = s.TopIPs(ctx, scope, w, limits.IPs); err != nil {
			return err
		}
		res.Summary, err = s.Summary(ctx, scope)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"host":     opts.Host,
		"requests": res.Summary.TotalRequests,
		"took":     time.Since(start).Round(time.Millisecond),
	}).Debug("analysis complete")
	return res, nil
}

// Hosts lists every tracked host ordered by hostname.
func (a *Analyzer) Hosts(ctx context.Context) ([]models.Host, error) {
	return a.Store.Hosts(ctx)
}

// Clear removes all hosts, entries and file metadata in one transaction.
func (a *Analyzer) Clear(ctx context.Context) error {
	if err := a.Store.Clear(ctx); err != nil {
		return err
	}
	log.Info("all data cleared")
	return nil
}
