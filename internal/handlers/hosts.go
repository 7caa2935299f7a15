package handlers

import (
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/xHacka/access-log-analyzer/internal/analysis"
)

type HostsHandler struct {
	Analyzer *analysis.Analyzer
}

func (h *HostsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	hosts, err := h.Analyzer.Hosts(r.Context())
	if err != nil {
		log.Errorf("hosts: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list hosts")
		return
	}
	writeJSON(w, http.StatusOK, hosts)
}

type ClearHandler struct {
	Analyzer *analysis.Analyzer
}

func (h *ClearHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.Analyzer.Clear(r.Context()); err != nil {
		log.Errorf("clear: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to clear data")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
