package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/DoyleJ11/guess-lobby-backend/internal/engine"
	"github.com/DoyleJ11/guess-lobby-backend/internal/hub"
	"github.com/DoyleJ11/guess-lobby-backend/internal/lobby"
	"github.com/DoyleJ11/guess-lobby-backend/internal/store"
	"github.com/DoyleJ11/guess-lobby-backend/internal/ws"
)

const qrSize = 320

type createLobbyRequest struct {
	Name string `json:"name"`
}

type errorResponse struct {
	Kind  string `json:"kind,omitempty"`
	Error string `json:"error"`
}

// StatusFor maps a rejected command to an HTTP status.
func StatusFor(err error) int {
	switch engine.KindOf(err) {
	case engine.KindValidation:
		return http.StatusBadRequest
	case engine.KindConflict:
		return http.StatusConflict
	case engine.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind engine.Kind, msg string) {
	writeJSON(w, status, errorResponse{Kind: string(kind), Error: msg})
}

// CreateLobby goes through the hub so connected clients get the new list.
func CreateLobby(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createLobbyRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, engine.KindValidation, "bad json")
			return
		}

		// the lobby exists once applied; the list update must be queued even
		// if the client has gone away
		res, err := h.Dispatch(context.WithoutCancel(r.Context()), engine.CreateLobby{Name: req.Name})
		if err != nil {
			status := StatusFor(err)
			if status == http.StatusInternalServerError {
				log.Error("create lobby failed", zap.Error(err))
			}
			writeError(w, status, engine.KindOf(err), reason(err))
			return
		}

		w.Header().Set("Location", "/lobbies/"+url.PathEscape(res.Lobby))
		writeJSON(w, http.StatusCreated, createLobbyRequest{Name: res.Lobby})
	}
}

// reason drops the command prefix from an engine error.
func reason(err error) string {
	var e *engine.Error
	if errors.As(err, &e) {
		return e.Err.Error()
	}
	return err.Error()
}

func ListLobbies(s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.ListLobbies())
	}
}

func GetLobby(s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, ok := lookup(w, r, s)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, ws.ToLobbyState(snap))
	}
}

// LobbyQR serves a PNG QR code pointing at the client page for one lobby.
// publicURL overrides the address derived from the request.
func LobbyQR(s *store.Store, publicURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, ok := lookup(w, r, s)
		if !ok {
			return
		}

		base := strings.TrimSuffix(publicURL, "/")
		if base == "" {
			scheme := "http"
			if r.TLS != nil {
				scheme = "https"
			}
			if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
				scheme = proto
			}
			base = scheme + "://" + r.Host
		}
		target := base + "/?lobby=" + url.QueryEscape(snap.Name)

		png, err := qrcode.Encode(target, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_, _ = w.Write(png)
	}
}

func lookup(w http.ResponseWriter, r *http.Request, s *store.Store) (lobby.Snapshot, bool) {
	raw, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, http.StatusBadRequest, engine.KindValidation, "bad lobby name")
		return lobby.Snapshot{}, false
	}
	name, err := lobby.CleanName(raw, lobby.MaxLobbyName)
	if err != nil {
		writeError(w, http.StatusBadRequest, engine.KindValidation, err.Error())
		return lobby.Snapshot{}, false
	}
	snap, err := s.Snapshot(name)
	if errors.Is(err, store.ErrLobbyNotFound) {
		writeError(w, http.StatusNotFound, engine.KindNotFound, err.Error())
		return lobby.Snapshot{}, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "", err.Error())
		return lobby.Snapshot{}, false
	}
	return snap, true
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
