package chat

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/daadii/onechat/backend/internal/model/chat"
	"github.com/daadii/onechat/backend/internal/service/auth"
	chatService "github.com/daadii/onechat/backend/internal/service/chat"
	"github.com/daadii/onechat/backend/pkg/utils"
)

// Handler 聊天会话的HTTP处理器
type Handler struct {
	registry *chatService.Registry
}

// New 创建聊天处理器
func New(registry *chatService.Registry) *Handler {
	return &Handler{registry: registry}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/chat", func(r chi.Router) {
		r.Post("/messages", h.handleSend)
		r.Get("/transcript", h.handleTranscript)
		r.Post("/new", h.handleNew)
	})
	r.Post("/attachments", h.handleComingSoon("File attachments"))
	r.Post("/voice", h.handleComingSoon("Voice input"))
}

// TranscriptView is the session snapshot returned to the browser.
type TranscriptView struct {
	ConversationID string            `json:"conversationId"`
	State          chatService.State `json:"state"`
	Messages       []chat.Message    `json:"messages"`
}

func viewOf(c *chatService.Controller) TranscriptView {
	messages := c.Messages()
	if messages == nil {
		messages = []chat.Message{}
	}
	return TranscriptView{ConversationID: c.ConversationID(), State: c.State(), Messages: messages}
}

func (h *Handler) controller(w http.ResponseWriter, r *http.Request) (*chatService.Controller, bool) {
	session, ok := auth.FromContext(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	return h.registry.For(session.UserID), true
}

// handleSend 发送消息，并以 SSE 推送本轮的记录变更，最后以 settled 或 notice 结束。
func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}

	var payload struct {
		Text string `json:"text"`
	}
	if !utils.DecodeJSON(w, r, &payload) {
		return
	}
	if strings.TrimSpace(payload.Text) == "" {
		utils.RespondError(w, http.StatusBadRequest, chatService.ErrEmptyMessage.Error())
		return
	}
	if ctrl.State() != chatService.StateIdle {
		utils.RespondError(w, http.StatusConflict, chatService.ErrBusy.Error())
		return
	}

	watchCtx, cancel := context.WithCancel(r.Context())
	defer cancel()
	updates := ctrl.Watch(watchCtx)
	sse, err := utils.NewSSEWriter(w)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// The cycle outlives the request so a reply still lands in the transcript
	// when the browser disconnects mid-stream.
	done := make(chan error, 1)
	go func() {
		done <- ctrl.Send(context.WithoutCancel(r.Context()), payload.Text)
	}()

	var (
		sendErr  error
		returned bool
		settled  bool
	)
	for !(returned && settled) {
		select {
		case u, open := <-updates:
			if !open {
				log.Printf("[chat] client left before the reply settled")
				return
			}
			if err := writeUpdate(sse, u); err != nil {
				log.Printf("[chat] relay write failed: %v", err)
				return
			}
			if u.Type == chatService.UpdateState && u.State == chatService.StateIdle {
				settled = true
			}
		case sendErr = <-done:
			returned = true
			if errors.Is(sendErr, chatService.ErrBusy) {
				sse.Event("notice", chat.Notice{Kind: chat.NoticeError, Title: "Error", Description: sendErr.Error()})
				return
			}
		}
	}

	if sendErr == nil {
		sse.Event("settled", viewOf(ctrl))
	}
}

// writeUpdate maps a controller update to an SSE event named after its type.
func writeUpdate(sse *utils.SSEWriter, u chatService.Update) error {
	switch u.Type {
	case chatService.UpdateTranscript:
		return sse.Event("transcript", u.Event)
	case chatService.UpdateNotice:
		return sse.Event("notice", u.Notice)
	default:
		return sse.Event("state", map[string]chatService.State{"state": u.State})
	}
}

func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, viewOf(ctrl))
}

func (h *Handler) handleNew(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	if err := ctrl.NewConversation(); err != nil {
		utils.RespondError(w, http.StatusConflict, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, viewOf(ctrl))
}

// handleComingSoon 为尚未开放的功能返回提示。
func (h *Handler) handleComingSoon(feature string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, chat.Notice{
			Kind:        chat.NoticeInfo,
			Title:       "Coming soon",
			Description: feature + " will be available soon.",
		})
	}
}
