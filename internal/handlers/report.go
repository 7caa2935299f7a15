package handlers

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/xHacka/access-log-analyzer/internal/analysis"
	"github.com/xHacka/access-log-analyzer/internal/orgs"
)

// ReportHandler serves AnalysisResults as JSON.
//
//	GET /api/report?host=example.com&orgs=1&pages=50
//
// Any of user_agents, pages, referrers, errors, ips and bandwidth_days
// overrides the configured limit for that section.
type ReportHandler struct {
	Analyzer *analysis.Analyzer
	Limits   analysis.Limits
	Orgs     *orgs.Cache
}

func (h *ReportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limits, err := parseLimits(q, h.Limits)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.Analyzer.Analyze(r.Context(), analysis.Options{Host: q.Get("host"), Limits: limits})
	if err != nil {
		log.Errorf("report: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to build report")
		return
	}
	if enrich, _ := strconv.ParseBool(q.Get("orgs")); enrich {
		h.Orgs.Annotate(res.TopIPs)
	}
	writeJSON(w, http.StatusOK, res)
}

func parseLimits(q url.Values, base analysis.Limits) (analysis.Limits, error) {
	l := base
	fields := []struct {
		name string
		dst  *int
	}{
		{"user_agents", &l.UserAgents},
		{"pages", &l.Pages},
		{"referrers", &l.Referrers},
		{"errors", &l.Errors},
		{"ips", &l.IPs},
		{"bandwidth_days", &l.BandwidthDays},
	}
	for _, f := range fields {
		v := q.Get(f.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return l, fmt.Errorf("invalid %s: %q is not a positive integer", f.name, v)
		}
		*f.dst = n
	}
	return l, nil
}
