package auth

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/daadii/onechat/backend/internal/service/auth"
	"github.com/daadii/onechat/backend/pkg/utils"
)

// Handler 处理登录状态变化。
type Handler struct {
	events *auth.Broadcaster
}

// New 创建认证处理器
func New(events *auth.Broadcaster) *Handler {
	return &Handler{events: events}
}

// RegisterRoutes 注册认证路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/signout", h.handleSignOut)
}

// handleSignOut 广播登出事件，会话控制器随之清空。
func (h *Handler) handleSignOut(w http.ResponseWriter, r *http.Request) {
	session, ok := auth.FromContext(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	h.events.Publish(auth.Event{Kind: auth.SignedOut, UserID: session.UserID})
	w.WriteHeader(http.StatusNoContent)
}
