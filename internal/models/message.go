package models

import "time"

// Message is an atomic unit of conversation content. Immutable once
// recorded except for the soft-delete flag.
type Message struct {
	ID             string         `json:"id"`
	ConversationID int64          `json:"conversation_id"`
	ContactID      int64          `json:"contact_id"`
	ExternalID     string         `json:"external_id,omitempty"`
	Type           MessageType    `json:"type"`
	Sender         Sender         `json:"sender"`
	Content        string         `json:"content"`
	MediaRef       string         `json:"media_ref,omitempty"`
	Classification Classification `json:"classification"`
	SentAt         time.Time      `json:"sent_at"`
	Deleted        bool           `json:"deleted,omitempty"`
}

// Inbound is the raw record delivered by the channel gateway for one
// received message.
type Inbound struct {
	ExternalID string      `json:"external_id"`
	Address    string      `json:"address"`
	NameHint   string      `json:"name_hint,omitempty"`
	Text       string      `json:"text"`
	MediaType  MessageType `json:"media_type"`
	MediaRef   string      `json:"media_ref,omitempty"`
	IsGroup    *bool       `json:"is_group,omitempty"`
	SentAt     time.Time   `json:"sent_at"`
}

// Cluster is a time-windowed group of messages from one contact,
// recomputed per summary request and never persisted.
type Cluster struct {
	ContactID int64      `json:"contact_id"`
	StartAt   time.Time  `json:"start_at"`
	EndAt     time.Time  `json:"end_at"`
	Messages  []*Message `json:"messages"`
	Summary   string     `json:"summary"`
}
