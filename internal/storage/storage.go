package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xaenox/triagebot/internal/models"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateMessage is returned when a message with the same external
// id already exists in the conversation.
var ErrDuplicateMessage = errors.New("duplicate message")

// Error wraps a persistence failure. Callers use it to distinguish
// structural storage problems from domain conditions like ErrNotFound.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func opError(op string, err error) error {
	return &Error{Op: op, Err: err}
}

// Storage is the persistence boundary for contacts, conversations and
// messages.
type Storage interface {
	// Contacts.
	ContactByAddress(ctx context.Context, address string) (*models.Contact, error)
	ContactByID(ctx context.Context, id int64) (*models.Contact, error)
	CreateContact(ctx context.Context, c *models.Contact) error
	UpdateContact(ctx context.Context, c *models.Contact) error

	// Conversations.
	OpenConversation(ctx context.Context, contactID int64) (*models.Conversation, error)
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	UpdateConversation(ctx context.Context, conv *models.Conversation) error
	ArchiveResolvedBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Messages. RecordMessage appends the message and applies the
	// already-computed conversation update as one transaction: a message
	// is never persisted without its conversation advancing.
	RecordMessage(ctx context.Context, msg *models.Message, conv *models.Conversation) error
	MessageByExternalID(ctx context.Context, conversationID int64, externalID string) (*models.Message, error)
	MessagesInRange(ctx context.Context, from, to time.Time) ([]*models.Message, error)
	ContactMessagesInRange(ctx context.Context, contactID int64, from, to time.Time) ([]*models.Message, error)

	// Assistant reply history, consumed by the response governor.
	LastAssistantReplyAt(ctx context.Context, contactID int64) (time.Time, error)
	AssistantRepliesSince(ctx context.Context, contactID int64, since time.Time) (int, error)

	Close() error
}
