package models

import "time"

// Contact is the identity of a remote party on the messaging channel.
// Created on first inbound message from an unseen address, updated
// opportunistically afterwards, never hard-deleted.
type Contact struct {
	ID         int64             `json:"id"`
	Address    string            `json:"address"`
	Name       string            `json:"name,omitempty"`
	IsGroup    bool              `json:"is_group"`
	Priority   Priority          `json:"priority"`
	Category   Category          `json:"category"`
	LastSeenAt time.Time         `json:"last_seen_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Conversation is a bounded session of exchange with one contact.
// At most one conversation per contact may be open (active or waiting)
// at a time.
type Conversation struct {
	ID               int64              `json:"id"`
	ContactID        int64              `json:"contact_id"`
	Status           ConversationStatus `json:"status"`
	Priority         Priority           `json:"priority"`
	Category         Category           `json:"category"`
	Summary          string             `json:"summary,omitempty"`
	Tags             []string           `json:"tags,omitempty"`
	MessageCount     int                `json:"message_count"`
	LastMessageAt    time.Time          `json:"last_message_at"`
	ResolvedAt       *time.Time         `json:"resolved_at,omitempty"`
	AssistantEnabled bool               `json:"assistant_enabled"`
	CreatedAt        time.Time          `json:"created_at"`
}
