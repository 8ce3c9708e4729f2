package service

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"agrisync/internal/domain"
	"agrisync/internal/gateway"
	"agrisync/internal/models"
	"agrisync/internal/queue"

	"github.com/rs/zerolog"
)

// ChatGateway is the slice of the HTTP gateway the assistant flow needs.
type ChatGateway interface {
	Chat(ctx context.Context, msg models.ChatMessage, imageName string, image io.Reader) (*gateway.ChatReply, error)
}

// ChatResult is the outcome of one assistant exchange. When the backend is
// offline the text question is queued and Reply stays empty.
type ChatResult struct {
	Reply      string
	Queued     bool
	MutationID int64
}

// ChatService runs the crop assistant conversation: it replays recent
// exchanges as context, and degrades text questions to the offline queue.
// Image questions cannot be queued; the image bytes are not persisted.
type ChatService struct {
	gw     ChatGateway
	queue  QueueAPI
	state  domain.StateRepository
	logger *zerolog.Logger
}

func NewChatService(gw ChatGateway, q QueueAPI, state domain.StateRepository, logger *zerolog.Logger) *ChatService {
	return &ChatService{gw: gw, queue: q, state: state, logger: logger}
}

// Ask sends one question, optionally with an image attachment.
func (c *ChatService) Ask(ctx context.Context, conversationID, message, lang string, imageName string, image io.Reader) (*ChatResult, error) {
	msg := models.ChatMessage{
		Message: message,
		Lang:    lang,
		Context: c.contextFor(ctx, conversationID),
	}

	reply, err := c.gw.Chat(ctx, msg, imageName, image)
	if err == nil {
		c.remember(ctx, conversationID, message, reply.Reply)
		return &ChatResult{Reply: reply.Reply}, nil
	}

	if image == nil && gateway.IsRetryable(err) {
		m, qerr := c.queue.QueueRequest(ctx, queue.Request{Type: models.MutationChatMessage, Payload: msg})
		if qerr != nil {
			return nil, fmt.Errorf("queueing chat message after network error: %w", qerr)
		}
		return &ChatResult{Queued: true, MutationID: m.ID}, nil
	}

	return nil, err
}

// Reset drops the conversation context.
func (c *ChatService) Reset(ctx context.Context, conversationID string) error {
	return c.state.ClearChatContext(ctx, conversationID)
}

// contextFor flattens recent exchanges into the wire format the assistant
// endpoint expects. Context loss only degrades answer quality, never fails
// the question.
func (c *ChatService) contextFor(ctx context.Context, conversationID string) map[string]string {
	state, err := c.state.GetChatContext(ctx, conversationID)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to load chat context")
		return nil
	}
	if state == nil || len(state.Exchanges) == 0 {
		return nil
	}

	flat := make(map[string]string, len(state.Exchanges)*2)
	for i, ex := range state.Exchanges {
		n := strconv.Itoa(i)
		flat["q"+n] = ex.Message
		flat["a"+n] = ex.Reply
	}
	return flat
}

func (c *ChatService) remember(ctx context.Context, conversationID, message, reply string) {
	state, err := c.state.GetChatContext(ctx, conversationID)
	if err != nil || state == nil {
		state = &models.ChatContext{ConversationID: conversationID}
	}

	state.Exchanges = append(state.Exchanges, models.ChatExchange{
		Message: message,
		Reply:   reply,
		At:      time.Now().UTC(),
	})
	if len(state.Exchanges) > models.MaxChatExchanges {
		state.Exchanges = state.Exchanges[len(state.Exchanges)-models.MaxChatExchanges:]
	}

	if err := c.state.SetChatContext(ctx, state); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to save chat context")
	}
}
