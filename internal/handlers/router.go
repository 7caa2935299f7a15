package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/xHacka/access-log-analyzer/internal/analysis"
	"github.com/xHacka/access-log-analyzer/internal/ingest"
	"github.com/xHacka/access-log-analyzer/internal/orgs"
)

type Deps struct {
	Analyzer *analysis.Analyzer
	Loader   *ingest.Loader
	Limits   analysis.Limits
	Orgs     *orgs.Cache

	MaxUploadBytes int64
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: log.StandardLogger(), NoColor: true}))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/api", func(r chi.Router) {
		r.Method(http.MethodGet, "/report", &ReportHandler{Analyzer: d.Analyzer, Limits: d.Limits, Orgs: d.Orgs})
		r.Method(http.MethodGet, "/hosts", &HostsHandler{Analyzer: d.Analyzer})
		r.Method(http.MethodPost, "/clear", &ClearHandler{Analyzer: d.Analyzer})
		r.Method(http.MethodPost, "/upload", &UploadHandler{Loader: d.Loader, MaxBytes: d.MaxUploadBytes})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
