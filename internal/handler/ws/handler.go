package ws

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/daadii/onechat/backend/internal/model/chat"
	"github.com/daadii/onechat/backend/internal/service/auth"
	chatService "github.com/daadii/onechat/backend/internal/service/chat"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// Handler 通过 WebSocket 推送会话记录的实时变化。
type Handler struct {
	registry *chatService.Registry
	upgrader websocket.Upgrader
}

// New 创建WebSocket处理器
func New(registry *chatService.Registry) *Handler {
	return &Handler{
		registry: registry,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type snapshot struct {
	ConversationID string            `json:"conversationId"`
	State          chatService.State `json:"state"`
	Messages       []chat.Message    `json:"messages"`
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	session, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	ctrl := h.registry.For(session.UserID)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("[websocket] new connection for user: %s", session.UserID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	updates := ctrl.Watch(ctx)
	outbound := make(chan outgoingMessage, 16)
	go h.readLoop(ctx, cancel, conn, ctrl, session, outbound)

	messages := ctrl.Messages()
	if messages == nil {
		messages = []chat.Message{}
	}
	if !write(conn, outgoingMessage{Type: "snapshot", Data: snapshot{
		ConversationID: ctrl.ConversationID(),
		State:          ctrl.State(),
		Messages:       messages,
	}}) {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case u, open := <-updates:
			if !open {
				return
			}
			if !write(conn, toMessage(u)) {
				return
			}
		case msg := <-outbound:
			if !write(conn, msg) {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop 处理客户端指令；所有写操作都交给主循环完成。
func (h *Handler) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, ctrl *chatService.Controller, session auth.Session, outbound chan<- outgoingMessage) {
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	reply := func(msg outgoingMessage) {
		select {
		case outbound <- msg:
		case <-ctx.Done():
		}
	}

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[websocket] read error: %v", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		switch msg.Type {
		case "send":
			sendCtx := auth.WithSession(context.Background(), session)
			go func(text string) {
				if err := ctrl.Send(sendCtx, text); errors.Is(err, chatService.ErrBusy) || errors.Is(err, chatService.ErrEmptyMessage) {
					reply(errorMessage(err.Error()))
				}
			}(msg.Text)
		case "new":
			if err := ctrl.NewConversation(); err != nil {
				reply(errorMessage(err.Error()))
			}
		default:
			reply(errorMessage("unknown message type"))
		}
	}
}

func toMessage(u chatService.Update) outgoingMessage {
	msg := outgoingMessage{Type: string(u.Type)}
	switch u.Type {
	case chatService.UpdateTranscript:
		msg.Data = u.Event
	case chatService.UpdateNotice:
		msg.Data = u.Notice
	default:
		msg.Data = map[string]chatService.State{"state": u.State}
	}
	return msg
}

func errorMessage(message string) outgoingMessage {
	return outgoingMessage{Type: "error", Data: map[string]string{"message": message}}
}

func write(conn *websocket.Conn, msg outgoingMessage) bool {
	msg.Timestamp = time.Now().Unix()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("[websocket] write failed: %v", err)
		return false
	}
	return true
}
