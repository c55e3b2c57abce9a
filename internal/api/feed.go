package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tutu-network/shf/internal/infra/observability"
)

// feedKeepAlive is how often an idle feed sends a comment line.
var feedKeepAlive = 15 * time.Second

// handleFeed serves a subject's posted entries via Server-Sent Events.
// GET /api/ledger/{subject}/feed
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	// Subscribe before the headers go out so a client that has seen the
	// response cannot miss the next entry.
	ch, unsub := s.engine.Feed().Subscribe(chi.URLParam(r, "subject"))
	defer unsub()
	observability.FeedSubscribers.Inc()
	defer observability.FeedSubscribers.Dec()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(feedKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case entry, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(entry)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "id: %s\nevent: entry\ndata: %s\n\n", entry.ID, data)
			flusher.Flush()
		}
	}
}
