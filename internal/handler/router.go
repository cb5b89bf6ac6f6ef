package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	authHandler "github.com/daadii/onechat/backend/internal/handler/auth"
	"github.com/daadii/onechat/backend/internal/handler/chat"
	"github.com/daadii/onechat/backend/internal/handler/completion"
	"github.com/daadii/onechat/backend/internal/handler/conversation"
	"github.com/daadii/onechat/backend/internal/handler/ws"
	middlewarePkg "github.com/daadii/onechat/backend/internal/middleware"
	"github.com/daadii/onechat/backend/internal/service/auth"
	chatService "github.com/daadii/onechat/backend/internal/service/chat"
	"github.com/daadii/onechat/backend/internal/service/persistence"
	"github.com/daadii/onechat/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(registry *chatService.Registry, history *persistence.Adapter, authn *middlewarePkg.Authenticator, events *auth.Broadcaster, relay *completion.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(protected chi.Router) {
		protected.Use(authn.Handler)

		protected.Route("/api", func(api chi.Router) {
			chat.New(registry).RegisterRoutes(api)
			conversation.New(history, registry).RegisterRoutes(api)
			authHandler.New(events).RegisterRoutes(api)
			ws.New(registry).RegisterRoutes(api)
		})

		// Reference model endpoint the session controllers post to.
		relay.RegisterRoutes(protected)
	})

	return r
}
