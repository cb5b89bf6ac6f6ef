package chat

import (
	"time"
	"unicode/utf8"
)

// TitleLimit 标题截断长度（按字符计）。
const TitleLimit = 50

// Conversation is a persisted conversation row.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TitleFrom derives a conversation title from the first user utterance.
func TitleFrom(firstMessage string) string {
	if utf8.RuneCountInString(firstMessage) <= TitleLimit {
		return firstMessage
	}
	runes := []rune(firstMessage)
	return string(runes[:TitleLimit]) + "..."
}
