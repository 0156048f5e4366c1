package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/SteamVC/SteamVC_Room/backend/call-server/internal/handlers"
)

// Options はルーターの設定です
type Options struct {
	AllowedOrigins []string // CORSで許可するオリジン（空ならCORSヘッダーを付けない）
	AllowDevTokens bool     // 開発用トークン発行エンドポイントを公開するか
}

func NewRouter(h *handlers.RoomHandler, wsHandler *handlers.WebSocketHandler, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
			ExposedHeaders:   []string{"Link"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/api/v1/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	// WebSocketエンドポイント（トークンは ?token= または Authorization ヘッダー）
	r.Get("/api/v1/ws", wsHandler.HandleWebSocket)

	r.Route("/api/v1/rooms", func(r chi.Router) {
		r.Get("/{roomId}", h.Get)
		r.Get("/{roomId}/messages", h.Messages)
	})

	if opts.AllowDevTokens {
		r.Post("/api/v1/dev/token", h.IssueDevToken)
	}

	return r
}
