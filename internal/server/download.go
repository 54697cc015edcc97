package server

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tonimelisma/minutes-gateway/internal/apperr"
	"github.com/tonimelisma/minutes-gateway/internal/auth"
	"github.com/tonimelisma/minutes-gateway/internal/delivery"
)

// ArtifactSource is the read side of the memory delivery store.
type ArtifactSource interface {
	Get(id, subject string) (*delivery.Artifact, error)
}

// DownloadObserver records download outcomes.
type DownloadObserver interface {
	ObserveDownload(status int)
}

type downloadHandler struct {
	store    ArtifactSource
	observer DownloadObserver
	logger   *slog.Logger
}

// ServeHTTP serves a stored artifact. Responses other than 200 carry no
// body beyond the status text; the handler never reveals whether an ID
// exists to a caller who may not read it.
func (h *downloadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := h.serve(w, r)

	if h.observer != nil {
		h.observer.ObserveDownload(status)
	}
}

func (h *downloadHandler) serve(w http.ResponseWriter, r *http.Request) int {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		return plainStatus(w, http.StatusMethodNotAllowed)
	}

	var subject string
	if p, ok := auth.PrincipalFromContext(r.Context()); ok {
		subject = p.Subject()
	}

	id := chi.URLParam(r, "id")

	a, err := h.store.Get(id, subject)
	if err != nil {
		status := apperr.From(err).Status()

		h.logger.Info("download refused",
			slog.String("request_id", apperr.RequestID(r.Context())),
			slog.Int("status", status),
		)

		if errors.Is(err, apperr.ErrUnauthorized) {
			w.Header().Set("WWW-Authenticate", "Bearer")
		}

		return plainStatus(w, status)
	}

	mimeType := a.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Disposition", delivery.ContentDisposition(a.FileName))
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	// ServeContent handles HEAD, Range and Content-Length.
	http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(a.Content))

	return http.StatusOK
}

func plainStatus(w http.ResponseWriter, status int) int {
	w.Header().Set("Cache-Control", "no-store")
	http.Error(w, http.StatusText(status), status)

	return status
}
