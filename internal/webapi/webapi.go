// Package webapi exposes the one HTTP surface kept in-core: the progress
// stream. Everything else named in the persistence/transport contract
// (the CRUD API and UI) is the out-of-scope external collaborator.
package webapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/chanforge/chanforge/internal/progress"
)

// Server serves the progress SSE route.
type Server struct {
	progress *progress.Store
	logger   zerolog.Logger
}

// New constructs a Server backed by store.
func New(store *progress.Store, logger zerolog.Logger) *Server {
	return &Server{progress: store, logger: logger}
}

// Router builds the chi.Router for the progress surface.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/progress/{ownerType}/{ownerID}", s.streamProgress)
	return r
}

// streamProgress streams the named operation's progress record as
// text/event-stream, one JSON record per coalesced update, until the
// operation reaches a terminal state or the client disconnects.
func (s *Server) streamProgress(w http.ResponseWriter, r *http.Request) {
	key := progress.Key{
		OwnerType: chi.URLParam(r, "ownerType"),
		OwnerID:   chi.URLParam(r, "ownerID"),
	}

	ch, unsubscribe, ok := s.progress.Subscribe(key)
	if !ok {
		http.Error(w, fmt.Sprintf(`{"error":"no progress tracked for %s/%s"}`, key.OwnerType, key.OwnerID), http.StatusNotFound)
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error":"streaming unsupported"}`, http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case rec, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(rec)
			if err != nil {
				s.logger.Error().Err(err).Msg("webapi: marshal progress record failed")
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			if rec.CompletedAt != nil {
				return
			}
		}
	}
}
