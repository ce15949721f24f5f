package bus

import (
	"time"

	"github.com/stellarlinkco/aiteam/internal/llm"
)

// InboundMessage is one user message received by a channel.
type InboundMessage struct {
	Channel   string
	SenderID  string
	ChatID    string
	Content   string
	Timestamp time.Time
	Media     []llm.Media // photos and documents attached to the message
	Metadata  map[string]any
}

func (m *InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

// IsCommand reports whether the message is a slash directive.
func (m *InboundMessage) IsCommand() bool {
	return len(m.Content) > 0 && m.Content[0] == '/'
}

type OutboundMessage struct {
	Channel  string
	ChatID   string
	Content  string
	ReplyTo  string
	Metadata map[string]any
}
