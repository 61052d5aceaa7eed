package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/triagebot/internal/classifier"
	"github.com/xaenox/triagebot/internal/inference"
	"github.com/xaenox/triagebot/internal/models"
	"github.com/xaenox/triagebot/internal/storage"
	"go.uber.org/zap"
)

// Sessions resolves channel addresses to contacts, owns the
// conversation lifecycle, and records messages. All three steps of an
// ingest run under a per-contact lock so concurrent messages from the
// same address cannot open two conversations or double-count totals.
type Sessions struct {
	store      storage.Storage
	classifier *classifier.Classifier
	history    *History
	logger     *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(store storage.Storage, clf *classifier.Classifier, history *History, logger *zap.Logger) *Sessions {
	return &Sessions{
		store:      store,
		classifier: clf,
		history:    history,
		logger:     logger,
		locks:      make(map[string]*sync.Mutex),
	}
}

// IngestResult is everything produced by processing one inbound message.
type IngestResult struct {
	Contact        *models.Contact
	Conversation   *models.Conversation
	Message        *models.Message
	Classification models.Classification
	FirstContact   bool
	// Duplicate is set when the inbound's external id was already
	// recorded for the conversation; no new message was created.
	Duplicate bool
}

// Ingest classifies an inbound message, resolves its contact and
// conversation, and records it. Storage failures propagate; the message
// is never recorded without a resolved contact and conversation.
func (s *Sessions) Ingest(ctx context.Context, in models.Inbound) (*IngestResult, error) {
	if in.Address == "" {
		return nil, fmt.Errorf("ingest: empty contact address")
	}
	if in.SentAt.IsZero() {
		in.SentAt = time.Now()
	}
	if in.MediaType == "" {
		in.MediaType = models.TypeText
	}

	lock := s.lockFor(in.Address)
	lock.Lock()
	defer lock.Unlock()

	contact, created, err := s.resolveContact(ctx, in)
	if err != nil {
		return nil, err
	}

	cls := s.classifier.Classify(in.Text, classifier.Metadata{
		SenderName:   in.NameHint,
		FirstContact: created,
		IsGroup:      contact.IsGroup,
		SentAt:       in.SentAt,
	})

	conv, err := s.resolveConversation(ctx, contact, cls, in.SentAt)
	if err != nil {
		return nil, err
	}

	if in.ExternalID != "" {
		existing, err := s.store.MessageByExternalID(ctx, conv.ID, in.ExternalID)
		if err == nil {
			return &IngestResult{
				Contact:        contact,
				Conversation:   conv,
				Message:        existing,
				Classification: existing.Classification,
				Duplicate:      true,
			}, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}

	msg := &models.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		ContactID:      contact.ID,
		ExternalID:     in.ExternalID,
		Type:           in.MediaType,
		Sender:         models.SenderUser,
		Content:        in.Text,
		MediaRef:       in.MediaRef,
		Classification: cls,
		SentAt:         in.SentAt,
	}

	conv.MessageCount++
	conv.LastMessageAt = in.SentAt

	if err := s.store.RecordMessage(ctx, msg, conv); err != nil {
		if errors.Is(err, storage.ErrDuplicateMessage) {
			s.logger.Warn("duplicate inbound dropped",
				zap.String("external_id", in.ExternalID),
				zap.Int64("conversation_id", conv.ID))
			return &IngestResult{
				Contact:        contact,
				Conversation:   conv,
				Classification: cls,
				Duplicate:      true,
			}, nil
		}
		return nil, err
	}

	s.history.Append(contact.ID, Entry{Sender: models.SenderUser, Content: in.Text, At: in.SentAt})

	return &IngestResult{
		Contact:        contact,
		Conversation:   conv,
		Message:        msg,
		Classification: cls,
		FirstContact:   created,
	}, nil
}

// resolveContact looks up the address, creating a contact with defaults
// on first sight and merging newly learned hints afterwards.
func (s *Sessions) resolveContact(ctx context.Context, in models.Inbound) (*models.Contact, bool, error) {
	contact, err := s.store.ContactByAddress(ctx, in.Address)
	if errors.Is(err, storage.ErrNotFound) {
		isGroup := groupAddress(in.Address)
		if in.IsGroup != nil {
			isGroup = *in.IsGroup
		}
		contact = &models.Contact{
			Address:    in.Address,
			Name:       in.NameHint,
			IsGroup:    isGroup,
			Priority:   models.PriorityMedium,
			Category:   models.CategoryUnknown,
			LastSeenAt: in.SentAt,
		}
		if err := s.store.CreateContact(ctx, contact); err != nil {
			return nil, false, err
		}
		return contact, true, nil
	}
	if err != nil {
		return nil, false, err
	}

	if in.NameHint != "" && contact.Name != in.NameHint {
		contact.Name = in.NameHint
	}
	if in.IsGroup != nil {
		contact.IsGroup = *in.IsGroup
	}
	if in.SentAt.After(contact.LastSeenAt) {
		contact.LastSeenAt = in.SentAt
	}
	if err := s.store.UpdateContact(ctx, contact); err != nil {
		return nil, false, err
	}
	return contact, false, nil
}

// resolveConversation finds the contact's open conversation or creates
// one seeded from the classification. Priority only ever escalates.
func (s *Sessions) resolveConversation(ctx context.Context, contact *models.Contact, cls models.Classification, at time.Time) (*models.Conversation, error) {
	conv, err := s.store.OpenConversation(ctx, contact.ID)
	if errors.Is(err, storage.ErrNotFound) {
		conv = &models.Conversation{
			ContactID:        contact.ID,
			Status:           models.StatusActive,
			Priority:         cls.Priority,
			Category:         cls.Category,
			LastMessageAt:    at,
			AssistantEnabled: true,
		}
		if err := s.store.CreateConversation(ctx, conv); err != nil {
			return nil, err
		}
		return conv, nil
	}
	if err != nil {
		return nil, err
	}

	conv.Priority = models.MaxPriority(conv.Priority, cls.Priority)
	if conv.Category == models.CategoryUnknown && cls.Category != models.CategoryOther {
		conv.Category = cls.Category
	}
	return conv, nil
}

// RecordAssistantReply records an outbound automated reply so that
// subsequent governor checks see it.
func (s *Sessions) RecordAssistantReply(ctx context.Context, contact *models.Contact, conv *models.Conversation, text string) (*models.Message, error) {
	lock := s.lockFor(contact.Address)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now()
	msg := &models.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		ContactID:      contact.ID,
		Type:           models.TypeText,
		Sender:         models.SenderAssistant,
		Content:        text,
		SentAt:         now,
	}

	conv.MessageCount++
	conv.LastMessageAt = now
	conv.Status = models.StatusWaiting

	if err := s.store.RecordMessage(ctx, msg, conv); err != nil {
		return nil, err
	}
	s.history.Append(contact.ID, Entry{Sender: models.SenderAssistant, Content: text, At: now})
	return msg, nil
}

// OpenForAddress returns the contact for an address and its open
// conversation, if any. The conversation is nil when none is open.
func (s *Sessions) OpenForAddress(ctx context.Context, address string) (*models.Contact, *models.Conversation, error) {
	contact, err := s.store.ContactByAddress(ctx, address)
	if err != nil {
		return nil, nil, err
	}
	conv, err := s.store.OpenConversation(ctx, contact.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return contact, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return contact, conv, nil
}

// MarkResolved transitions an open conversation to resolved, setting
// the resolved timestamp once.
func (s *Sessions) MarkResolved(ctx context.Context, conv *models.Conversation) error {
	if !conv.Status.Open() {
		return nil
	}
	conv.Status = models.StatusResolved
	if conv.ResolvedAt == nil {
		now := time.Now()
		conv.ResolvedAt = &now
	}
	return s.store.UpdateConversation(ctx, conv)
}

// ArchiveStale archives resolved conversations older than cutoffDays.
// Idempotent; safe to run on a schedule.
func (s *Sessions) ArchiveStale(ctx context.Context, cutoffDays int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -cutoffDays)
	n, err := s.store.ArchiveResolvedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("archived stale conversations", zap.Int("count", n))
	}
	return n, nil
}

// RecentContext renders the bounded in-memory exchange history for a
// contact as inference chat turns, oldest first.
func (s *Sessions) RecentContext(contactID int64) []inference.Turn {
	entries := s.history.Recent(contactID)
	if len(entries) == 0 {
		return nil
	}
	turns := make([]inference.Turn, 0, len(entries))
	for _, e := range entries {
		turns = append(turns, inference.Turn{
			Assistant: e.Sender == models.SenderAssistant,
			Content:   e.Content,
		})
	}
	return turns
}

// SweepHistory evicts idle per-contact history buffers.
func (s *Sessions) SweepHistory(maxAge time.Duration) int {
	return s.history.SweepIdle(maxAge, time.Now())
}

func (s *Sessions) lockFor(address string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[address]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.locks[address] = l
	return l
}

// groupAddress derives group-ness from the address shape when the
// gateway provides no hint.
func groupAddress(address string) bool {
	return strings.HasSuffix(address, "@g.us") || strings.HasPrefix(address, "group:")
}
