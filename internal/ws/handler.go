package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/guess-lobby-backend/internal/engine"
	"github.com/DoyleJ11/guess-lobby-backend/internal/hub"
	"github.com/DoyleJ11/guess-lobby-backend/internal/lobby"
	"github.com/DoyleJ11/guess-lobby-backend/pkg/types"
)

const (
	writeTimeout = 3 * time.Second
	readLimit    = 4 << 10
)

type Options struct {
	// OriginPatterns loosens the same-origin check, e.g. "localhost:*" in dev.
	OriginPatterns []string
	OutboxSize     int
	Log            *zap.Logger
}

// Handler upgrades the request and binds the connection to a fresh user id.
// The user stays unjoined until it sends join or joinLobby.
func Handler(h *hub.Hub, opts Options) http.HandlerFunc {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	size := opts.OutboxSize
	if size <= 0 {
		size = 16
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			log.Debug("websocket accept failed", zap.Error(err))
			return
		}
		defer conn.CloseNow()
		conn.SetReadLimit(readLimit)

		clientID := lobby.UserID(uuid.NewString())
		clog := log.With(zap.String("client", string(clientID)))

		out := make(chan hub.Notification, size)
		if err := h.Register(r.Context(), clientID, out); err != nil {
			conn.Close(websocket.StatusTryAgainLater, "server shutting down")
			return
		}
		clog.Info("client connected", zap.String("remote", r.RemoteAddr))
		defer func() {
			h.Disconnect(context.Background(), clientID)
			clog.Info("client disconnected")
		}()

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for n := range out {
				msg, ok := toServerMessage(n)
				if !ok {
					continue
				}
				ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
				err := wsjson.Write(ctx, conn, msg)
				cancel()
				if err != nil {
					clog.Debug("write failed", zap.Error(err))
					conn.CloseNow()
					return
				}
			}
			// The hub closed the outbox: too slow, or shutting down.
			conn.Close(websocket.StatusPolicyViolation, "outbox closed")
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					if !errors.Is(err, context.Canceled) {
						clog.Debug("read failed", zap.Error(err))
					}
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				_ = h.Reject(r.Context(), clientID, "", errors.New("bad json"))
				continue
			}

			cmd, err := toEngineCommand(clientID, cm)
			if err != nil {
				_ = h.Reject(r.Context(), clientID, cm.Event, err)
				continue
			}

			// Rejections are delivered through the outbox.
			if _, err := h.Dispatch(r.Context(), cmd); err != nil && engine.KindOf(err) == engine.KindInvariant {
				clog.Warn("command failed", zap.String("event", cm.Event), zap.Error(err))
			}
		}
	}
}
