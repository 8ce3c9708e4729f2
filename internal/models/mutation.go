package models

import (
	"encoding/json"
	"time"
)

// Mutation type tags. The sync worker dispatches replay on these.
const (
	MutationCreateField = "create-field"
	MutationUpdateField = "update-field"
	MutationDeleteField = "delete-field"
	MutationChatMessage = "chat-message"
)

// QueuedMutation is a state-changing request persisted locally while the
// backend is unreachable.
type QueuedMutation struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// FieldCreate is the payload of a create-field mutation.
type FieldCreate struct {
	Name       string  `json:"name"`
	Area       float64 `json:"area"`
	SoilType   string  `json:"soilType"`
	Irrigation string  `json:"irrigation"`
	Village    string  `json:"village,omitempty"`
}

// FieldUpdate is the payload of an update-field mutation. Patch carries only
// the attributes being changed, exactly as they would have been PATCHed.
type FieldUpdate struct {
	ID    string          `json:"id"`
	Patch json.RawMessage `json:"patch"`
}

// FieldDelete is the payload of a delete-field mutation.
type FieldDelete struct {
	ID string `json:"id"`
}

// ChatMessage is the payload of a chat-message mutation.
type ChatMessage struct {
	Message string            `json:"message"`
	Lang    string            `json:"lang"`
	Context map[string]string `json:"context,omitempty"`
}
