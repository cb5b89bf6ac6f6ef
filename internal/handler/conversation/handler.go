package conversation

import (
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/daadii/onechat/backend/internal/model/chat"
	"github.com/daadii/onechat/backend/internal/service/auth"
	chatService "github.com/daadii/onechat/backend/internal/service/chat"
	"github.com/daadii/onechat/backend/internal/service/persistence"
	"github.com/daadii/onechat/backend/internal/store"
	"github.com/daadii/onechat/backend/pkg/utils"
)

// Handler 会话历史的HTTP处理器
type Handler struct {
	history  *persistence.Adapter
	registry *chatService.Registry
}

// New 创建会话历史处理器
func New(history *persistence.Adapter, registry *chatService.Registry) *Handler {
	return &Handler{history: history, registry: registry}
}

// RegisterRoutes 注册会话历史路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/conversations", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Delete("/{conversationID}", h.handleDelete)
		r.Post("/{conversationID}/load", h.handleLoad)
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	conversations, err := h.history.ListConversations(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"conversations": conversations})
}

// handleDelete 删除会话；若删除的是当前会话，则同时开启新会话。
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	if err := h.history.DeleteConversation(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}

	if session, ok := auth.FromContext(r.Context()); ok {
		h.registry.For(session.UserID).ForgetConversation(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLoad(w http.ResponseWriter, r *http.Request) {
	session, ok := auth.FromContext(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	ctrl := h.registry.For(session.UserID)
	if err := ctrl.LoadConversation(r.Context(), chi.URLParam(r, "conversationID")); err != nil {
		respondStoreError(w, err)
		return
	}

	messages := ctrl.Messages()
	if messages == nil {
		messages = []chat.Message{}
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"conversationId": ctrl.ConversationID(),
		"state":          ctrl.State(),
		"messages":       messages,
	})
}

func respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, persistence.ErrNotAuthenticated):
		utils.RespondError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, persistence.ErrForbidden):
		utils.RespondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, store.ErrNotFound):
		utils.RespondError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, chatService.ErrBusy):
		utils.RespondError(w, http.StatusConflict, err.Error())
	default:
		log.Printf("[history] request failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to access conversation history")
	}
}
