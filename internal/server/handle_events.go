package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kyleqd/sitemap/internal/collab"
)

// delivered reports whether ev goes to user. Conflict notices only reach
// the user whose write was overwritten.
func delivered(ev collab.Event, user string) bool {
	return ev.Type != collab.EventConflict || ev.UserID == user
}

// handleEvents streams the map's session events as server-sent events.
// Change events carry their sequence as the event id. The stream ends
// when the subscriber falls behind; clients reconnect and catch up from
// the change log.
func handleEvents(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws := workspace(r)
		user := userID(r)

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming not supported")
			return
		}

		ch, cancel, err := ws.Session.Subscribe(r.Context())
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		defer cancel()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		fmt.Fprintf(w, "event: ready\ndata: {\"seq\":%d}\n\n", ws.Store.Seq())
		flusher.Flush()

		ping := time.NewTicker(30 * time.Second)
		defer ping.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case ev, open := <-ch:
				if !open {
					logger.Debug("event stream closed", "map", ws.Store.ID(), "user", user)
					return
				}
				if !delivered(ev, user) {
					continue
				}
				data, err := json.Marshal(ev)
				if err != nil {
					logger.Error("encoding event", "type", ev.Type, "error", err)
					continue
				}
				if ev.Seq > 0 {
					fmt.Fprintf(w, "id: %d\n", ev.Seq)
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
				flusher.Flush()
			case <-ping.C:
				fmt.Fprintf(w, ": ping\n\n")
				flusher.Flush()
			}
		}
	}
}
