package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/kyleqd/sitemap/internal/collab"
)

// WelcomeMessage is the first frame on a collaboration socket.
type WelcomeMessage struct {
	Type      string            `json:"type"`
	Seq       uint64            `json:"seq"`
	Presences []collab.Presence `json:"presences"`
}

// ErrorMessage reports a rejected client event. The socket stays open.
type ErrorMessage struct {
	Type   string `json:"type"`
	Status int    `json:"status"`
	Error  string `json:"error"`
}

const writeTimeout = 5 * time.Second

// handleCollab upgrades to a websocket carrying collab events both ways.
// Browsers cannot set headers on the upgrade, so ?user= is accepted too.
func handleCollab(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws := workspace(r)
		user := userID(r)
		if user == "" {
			user = r.URL.Query().Get("user")
		}
		if user == "" {
			writeError(w, http.StatusForbidden, userHeader+" header or user query parameter required")
			return
		}

		events, unsubscribe, err := ws.Session.Subscribe(r.Context())
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		defer unsubscribe()

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			logger.Error("websocket accept failed", "error", err)
			return
		}
		defer conn.CloseNow()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		presences := ws.Session.Join(user, r.URL.Query().Get("name"))
		defer ws.Session.Leave(user)
		logger.Info("collaborator connected", "map", ws.Store.ID(), "user", user)

		if err := write(ctx, conn, WelcomeMessage{Type: "welcome", Seq: ws.Store.Seq(), Presences: presences}); err != nil {
			return
		}

		go func() {
			defer cancel()
			for {
				select {
				case <-ctx.Done():
					return
				case ev, open := <-events:
					if !open {
						conn.Close(websocket.StatusTryAgainLater, "fell behind, resync")
						return
					}
					if !delivered(ev, user) {
						continue
					}
					if err := write(ctx, conn, ev); err != nil {
						logger.Debug("websocket write failed", "error", err)
						return
					}
				}
			}
		}()

		for {
			var ev collab.Event
			if err := wsjson.Read(ctx, conn, &ev); err != nil {
				if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
					logger.Debug("websocket read ended", "error", err)
				}
				logger.Info("collaborator disconnected", "map", ws.Store.ID(), "user", user)
				return
			}
			if err := ws.Session.Handle(ctx, user, ev); err != nil {
				status := errorStatus(err)
				if status == http.StatusInternalServerError {
					logger.Error("collab event failed", "map", ws.Store.ID(), "user", user, "type", ev.Type, "error", err)
				}
				if werr := write(ctx, conn, ErrorMessage{Type: "error", Status: status, Error: err.Error()}); werr != nil {
					return
				}
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}
