package handlers

import (
	"errors"
	"net/http"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/xHacka/access-log-analyzer/internal/ingest"
)

const (
	maxUploadMemory = 32 << 20
	defaultMaxBytes = 64 << 20
)

type UploadHandler struct {
	Loader *ingest.Loader
	// MaxBytes caps the request body. Zero selects 64 MiB.
	MaxBytes int64
}

type uploadResponse struct {
	ID      string `json:"id"`
	Host    string `json:"host"`
	Parsed  int    `json:"parsed"`
	Skipped int    `json:"skipped"`
}

func (h *UploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	limit := h.MaxBytes
	if limit <= 0 {
		limit = defaultMaxBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds "+strconv.FormatInt(tooLarge.Limit, 10)+" bytes")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid form: "+err.Error())
		return
	}
	file, header, err := r.FormFile("logfile")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file uploaded: "+err.Error())
		return
	}
	defer file.Close()

	res, err := h.Loader.LoadReader(r.Context(), file, r.FormValue("hostname"), "upload:"+header.Filename)
	switch {
	case errors.Is(err, ingest.ErrInvalidHost), errors.Is(err, ingest.ErrEmptyResult):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		log.WithField("file", header.Filename).Errorf("upload: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to ingest")
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{
		ID:      res.ID,
		Host:    res.Host.Hostname,
		Parsed:  res.Parsed,
		Skipped: res.Skipped,
	})
}
