package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/zzenonn/zdav/internal/connections"
	zerrors "github.com/zzenonn/zdav/internal/errors"
	"github.com/zzenonn/zdav/internal/stream"
)

type connectionsResponse struct {
	Live      int                        `json:"live"`
	Idle      int                        `json:"idle"`
	Max       int                        `json:"max"`
	Providers map[string]connectionStats `json:"providers"`
}

type connectionStats struct {
	Live int `json:"live"`
	Idle int `json:"idle"`
	Max  int `json:"max"`
}

func toConnectionStats(st connections.PoolStats) connectionStats {
	return connectionStats{Live: st.Live, Idle: st.Idle, Max: st.Max}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	total := s.stats.Stats()
	resp := connectionsResponse{
		Live:      total.Live,
		Idle:      total.Idle,
		Max:       total.Max,
		Providers: make(map[string]connectionStats),
	}
	for name, st := range s.stats.ProviderStats() {
		resp.Providers[name] = toConnectionStats(st)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	item, st, err := s.items.OpenItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	defer st.Close()

	var modified time.Time
	if item.ReleaseDate != nil {
		modified = *item.ReleaseDate
	}
	http.ServeContent(w, r, path.Base(item.Path), modified, &sizedStream{Stream: st})
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	result, err := s.checker.CheckItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	results, err := s.results.ListResults(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// sizedStream answers the SeekEnd probe http.ServeContent uses to size the
// content. Streams themselves only seek from the start or current position.
type sizedStream struct {
	stream.Stream
}

func (s *sizedStream) Seek(offset int64, whence int) (int64, error) {
	if whence == io.SeekEnd {
		return s.Stream.Seek(s.Length()+offset, io.SeekStart)
	}
	return s.Stream.Seek(offset, whence)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("failed to write response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, zerrors.ErrItemNotFound):
		status = http.StatusNotFound
	case errors.Is(err, zerrors.ErrNotSupported):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, zerrors.ErrArticleNotFound), errors.Is(err, zerrors.ErrNoProviders):
		status = http.StatusBadGateway
	default:
		log.WithError(err).Error("request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
