package models

import "time"

// ChatExchange is one question/answer pair kept as assistant context.
type ChatExchange struct {
	Message string    `json:"message"`
	Reply   string    `json:"reply"`
	At      time.Time `json:"at"`
}

// ChatContext is the rolling conversation state fed back to the assistant so
// follow-up questions stay coherent.
type ChatContext struct {
	ConversationID string         `json:"conversation_id"`
	Exchanges      []ChatExchange `json:"exchanges"`
}

// MaxChatExchanges bounds how much context is replayed per message.
const MaxChatExchanges = 10
