package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xaenox/triagebot/internal/models"
)

// MemoryStorage is an in-memory Storage used for local runs and tests.
type MemoryStorage struct {
	mu            sync.RWMutex
	contacts      map[int64]*models.Contact
	byAddress     map[string]int64
	conversations map[int64]*models.Conversation
	messages      map[string]*models.Message
	nextContactID int64
	nextConvID    int64

	// failNext simulates a storage outage for fail-closed tests.
	failNext error
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		contacts:      make(map[int64]*models.Contact),
		byAddress:     make(map[string]int64),
		conversations: make(map[int64]*models.Conversation),
		messages:      make(map[string]*models.Message),
	}
}

// FailWith makes every subsequent call return err until reset with nil.
func (s *MemoryStorage) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

func (s *MemoryStorage) fail() error {
	if s.failNext != nil {
		return opError("simulated", s.failNext)
	}
	return nil
}

func (s *MemoryStorage) ContactByAddress(ctx context.Context, address string) (*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail(); err != nil {
		return nil, err
	}
	id, ok := s.byAddress[address]
	if !ok {
		return nil, ErrNotFound
	}
	return copyContact(s.contacts[id]), nil
}

func (s *MemoryStorage) ContactByID(ctx context.Context, id int64) (*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail(); err != nil {
		return nil, err
	}
	c, ok := s.contacts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyContact(c), nil
}

func (s *MemoryStorage) CreateContact(ctx context.Context, c *models.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	s.nextContactID++
	c.ID = s.nextContactID
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	s.contacts[c.ID] = copyContact(c)
	s.byAddress[c.Address] = c.ID
	return nil
}

func (s *MemoryStorage) UpdateContact(ctx context.Context, c *models.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	if _, ok := s.contacts[c.ID]; !ok {
		return ErrNotFound
	}
	c.UpdatedAt = time.Now()
	s.contacts[c.ID] = copyContact(c)
	return nil
}

func (s *MemoryStorage) OpenConversation(ctx context.Context, contactID int64) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail(); err != nil {
		return nil, err
	}
	var best *models.Conversation
	for _, conv := range s.conversations {
		if conv.ContactID != contactID || !conv.Status.Open() {
			continue
		}
		if best == nil || conv.LastMessageAt.After(best.LastMessageAt) {
			best = conv
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return copyConversation(best), nil
}

func (s *MemoryStorage) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	s.nextConvID++
	conv.ID = s.nextConvID
	conv.CreatedAt = time.Now()
	s.conversations[conv.ID] = copyConversation(conv)
	return nil
}

func (s *MemoryStorage) UpdateConversation(ctx context.Context, conv *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	if _, ok := s.conversations[conv.ID]; !ok {
		return ErrNotFound
	}
	s.conversations[conv.ID] = copyConversation(conv)
	return nil
}

func (s *MemoryStorage) ArchiveResolvedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return 0, err
	}
	archived := 0
	for _, conv := range s.conversations {
		if conv.Status == models.StatusResolved && conv.ResolvedAt != nil && conv.ResolvedAt.Before(cutoff) {
			conv.Status = models.StatusArchived
			archived++
		}
	}
	return archived, nil
}

func (s *MemoryStorage) RecordMessage(ctx context.Context, msg *models.Message, conv *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	if msg.ExternalID != "" {
		for _, existing := range s.messages {
			if existing.ConversationID == msg.ConversationID && existing.ExternalID == msg.ExternalID {
				return ErrDuplicateMessage
			}
		}
	}
	if _, ok := s.conversations[conv.ID]; !ok {
		return ErrNotFound
	}
	s.messages[msg.ID] = copyMessage(msg)
	s.conversations[conv.ID] = copyConversation(conv)
	return nil
}

func (s *MemoryStorage) MessageByExternalID(ctx context.Context, conversationID int64, externalID string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail(); err != nil {
		return nil, err
	}
	for _, msg := range s.messages {
		if msg.ConversationID == conversationID && msg.ExternalID == externalID {
			return copyMessage(msg), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) MessagesInRange(ctx context.Context, from, to time.Time) ([]*models.Message, error) {
	return s.filterMessages(func(m *models.Message) bool {
		return inRange(m.SentAt, from, to)
	})
}

func (s *MemoryStorage) ContactMessagesInRange(ctx context.Context, contactID int64, from, to time.Time) ([]*models.Message, error) {
	return s.filterMessages(func(m *models.Message) bool {
		return m.ContactID == contactID && inRange(m.SentAt, from, to)
	})
}

func (s *MemoryStorage) filterMessages(keep func(*models.Message) bool) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail(); err != nil {
		return nil, err
	}
	var out []*models.Message
	for _, msg := range s.messages {
		if !msg.Deleted && keep(msg) {
			out = append(out, copyMessage(msg))
		}
	}
	sortMessages(out)
	return out, nil
}

func (s *MemoryStorage) LastAssistantReplyAt(ctx context.Context, contactID int64) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail(); err != nil {
		return time.Time{}, err
	}
	var last time.Time
	for _, msg := range s.messages {
		if msg.ContactID == contactID && msg.Sender == models.SenderAssistant && msg.SentAt.After(last) {
			last = msg.SentAt
		}
	}
	return last, nil
}

func (s *MemoryStorage) AssistantRepliesSince(ctx context.Context, contactID int64, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail(); err != nil {
		return 0, err
	}
	count := 0
	for _, msg := range s.messages {
		if msg.ContactID == contactID && msg.Sender == models.SenderAssistant && !msg.SentAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStorage) Close() error {
	return nil
}

func inRange(at, from, to time.Time) bool {
	return !at.Before(from) && !at.After(to)
}

func sortMessages(msgs []*models.Message) {
	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].SentAt.Equal(msgs[j].SentAt) {
			return msgs[i].SentAt.Before(msgs[j].SentAt)
		}
		return msgs[i].ID < msgs[j].ID
	})
}

func copyContact(c *models.Contact) *models.Contact {
	out := *c
	if c.Metadata != nil {
		out.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

func copyConversation(conv *models.Conversation) *models.Conversation {
	out := *conv
	out.Tags = append([]string(nil), conv.Tags...)
	if conv.ResolvedAt != nil {
		at := *conv.ResolvedAt
		out.ResolvedAt = &at
	}
	return &out
}

func copyMessage(msg *models.Message) *models.Message {
	out := *msg
	return &out
}
