package completion

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/daadii/onechat/backend/internal/model/chat"
	"github.com/daadii/onechat/backend/internal/service/ai"
	"github.com/daadii/onechat/backend/internal/service/auth"
	"github.com/daadii/onechat/backend/pkg/utils"
)

// Generator streams a reply to a conversation.
type Generator interface {
	StreamReply(ctx context.Context, messages []chat.Message) (ai.ReplyStream, error)
}

// Handler is the model endpoint the browser client posts conversations to.
// It answers with chat.completion.chunk frames terminated by [DONE].
type Handler struct {
	gen   Generator
	quota *Quota
	model string
}

// New creates the endpoint. A nil gen answers 503.
func New(gen Generator, quota *Quota, model string) *Handler {
	if model == "" {
		model = "onechat"
	}
	return &Handler{gen: gen, quota: quota, model: model}
}

// RegisterRoutes mounts the endpoint on r, which must already authenticate.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/functions/v1/chat", h.handleChat)
}

type chatRequest struct {
	Messages []chat.Message `json:"messages"`
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	session, ok := auth.FromContext(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req chatRequest
	if !utils.DecodeJSON(w, r, &req) {
		return
	}
	for _, m := range req.Messages {
		if !m.Role.Valid() {
			utils.RespondError(w, http.StatusBadRequest, "invalid message role")
			return
		}
	}

	if h.gen == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "AI service is not configured")
		return
	}

	if h.quota != nil {
		if err := h.quota.Take(session.UserID); err != nil {
			status := http.StatusTooManyRequests
			if errors.Is(err, ErrNoCredits) {
				status = http.StatusPaymentRequired
			}
			log.Printf("[relay] refused user=%s: %v", session.UserID, err)
			utils.RespondError(w, status, err.Error())
			return
		}
	}

	stream, err := h.gen.StreamReply(r.Context(), req.Messages)
	if err != nil {
		if errors.Is(err, ai.ErrNoQuery) {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("[relay] generator failed user=%s: %v", session.UserID, err)
		utils.RespondError(w, http.StatusBadGateway, "AI gateway error")
		return
	}
	defer stream.Close()

	sse, err := utils.NewSSEWriter(w)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	id := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()
	chunks := 0
	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Without [DONE] the client must see a broken body, not a short reply.
			log.Printf("[relay] stream aborted user=%s after %d chunks: %v", session.UserID, chunks, err)
			panic(http.ErrAbortHandler)
		}

		if err := sse.Data(h.frame(id, created, delta, "")); err != nil {
			log.Printf("[relay] client went away user=%s: %v", session.UserID, err)
			return
		}
		chunks++
	}

	if err := sse.Data(h.frame(id, created, "", openai.FinishReasonStop)); err != nil {
		return
	}
	if err := sse.Raw("[DONE]"); err != nil {
		return
	}
	log.Printf("[relay] completed user=%s chunks=%d", session.UserID, chunks)
}

func (h *Handler) frame(id string, created int64, content string, finish openai.FinishReason) openai.ChatCompletionStreamResponse {
	return openai.ChatCompletionStreamResponse{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   h.model,
		Choices: []openai.ChatCompletionStreamChoice{{
			Index:        0,
			Delta:        openai.ChatCompletionStreamChoiceDelta{Role: openai.ChatMessageRoleAssistant, Content: content},
			FinishReason: finish,
		}},
	}
}
