package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/guess-lobby-backend/internal/hub"
	"github.com/DoyleJ11/guess-lobby-backend/internal/ws"
)

type Options struct {
	PublicURL      string
	OriginPatterns []string
	OutboxSize     int
	Log            *zap.Logger
}

func SetupRoutes(h *hub.Hub, opts Options) http.Handler {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	s := h.Processor().Store()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthz", Healthz)
	r.Route("/lobbies", func(r chi.Router) {
		r.Get("/", ListLobbies(s))
		r.Post("/", CreateLobby(h, log))
		r.Get("/{name}", GetLobby(s))
		r.Get("/{name}/qr", LobbyQR(s, opts.PublicURL))
	})
	r.Get("/ws", ws.Handler(h, ws.Options{
		OriginPatterns: opts.OriginPatterns,
		OutboxSize:     opts.OutboxSize,
		Log:            log,
	}))
	return r
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Debug("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("took", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
