package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/daadii/onechat/backend/internal/config"
	"github.com/daadii/onechat/backend/internal/model/chat"
)

// ErrNoQuery 表示消息列表不以用户消息结尾。
var ErrNoQuery = errors.New("last message must come from the user")

// ReplyStream yields reply deltas until io.EOF.
type ReplyStream interface {
	Recv() (string, error)
	Close()
}

// Service generates assistant replies through an eino chain:
// system prompt, trimmed history, then the user's query.
type Service struct {
	chain        compose.Runnable[map[string]any, *schema.Message]
	systemPrompt string
	historyLimit int
}

// NewService creates the Ark-backed reply generator.
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewServiceWithModel(ctx, chatModel, cfg)
}

// NewServiceWithModel builds the chain around an already constructed model.
func NewServiceWithModel(ctx context.Context, chatModel model.BaseChatModel, cfg config.AIConfig) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	return &Service{
		chain:        runnable,
		systemPrompt: BuildSystemPrompt(cfg.SystemPrompt),
		historyLimit: limit,
	}, nil
}

// StreamReply streams the reply to a conversation whose last message is the
// user's query.
func (s *Service) StreamReply(ctx context.Context, messages []chat.Message) (ReplyStream, error) {
	input, err := s.buildChainInput(messages)
	if err != nil {
		return nil, err
	}

	stream, err := s.chain.Stream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to stream AI chain output: %w", err)
	}

	log.Printf("[ai] streaming reply, history=%d", len(input["history"].([]*schema.Message)))
	return &messageStream{reader: stream}, nil
}

func (s *Service) buildChainInput(messages []chat.Message) (map[string]any, error) {
	if len(messages) == 0 {
		return nil, ErrNoQuery
	}
	last := messages[len(messages)-1]
	if last.Role != chat.RoleUser {
		return nil, ErrNoQuery
	}

	return map[string]any{
		"system":  s.systemPrompt,
		"history": s.buildHistoryMessages(messages[:len(messages)-1]),
		"query":   last.Content,
	}, nil
}

func (s *Service) buildHistoryMessages(messages []chat.Message) []*schema.Message {
	startIdx := 0
	if len(messages) > s.historyLimit {
		startIdx = len(messages) - s.historyLimit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return history
}

type messageStream struct {
	reader *schema.StreamReader[*schema.Message]
}

func (m *messageStream) Recv() (string, error) {
	for {
		chunk, err := m.reader.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", err
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		return chunk.Content, nil
	}
}

func (m *messageStream) Close() {
	m.reader.Close()
}
