package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xaenox/triagebot/internal/classifier"
	"github.com/xaenox/triagebot/internal/models"
	"github.com/xaenox/triagebot/internal/storage"
	"go.uber.org/zap"
)

func newSessions(store storage.Storage) *Sessions {
	return New(store, classifier.New(classifier.Options{}), NewHistory(5), zap.NewNop())
}

func inbound(externalID, address, text string, at time.Time) models.Inbound {
	return models.Inbound{
		ExternalID: externalID,
		Address:    address,
		Text:       text,
		MediaType:  models.TypeText,
		SentAt:     at,
	}
}

func TestIngestCreatesContactAndConversation(t *testing.T) {
	store := storage.NewMemoryStorage()
	s := newSessions(store)
	at := time.Date(2024, 3, 12, 14, 0, 0, 0, time.UTC)

	res, err := s.Ingest(context.Background(), inbound("m1", "+15551234", "urgent: server down", at))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if !res.FirstContact {
		t.Error("expected first contact")
	}
	if res.Contact.Address != "+15551234" {
		t.Errorf("contact address = %q", res.Contact.Address)
	}
	if res.Conversation.Priority != models.PriorityUrgent {
		t.Errorf("conversation priority = %q, want urgent", res.Conversation.Priority)
	}
	if res.Conversation.Category != models.CategorySupport {
		t.Errorf("conversation category = %q, want support", res.Conversation.Category)
	}
	if res.Classification.IsSpam {
		t.Error("message should not be spam")
	}
	if res.Message.Sender != models.SenderUser {
		t.Errorf("sender = %q, want user", res.Message.Sender)
	}
	if res.Conversation.MessageCount != 1 {
		t.Errorf("message count = %d, want 1", res.Conversation.MessageCount)
	}
}

func TestIngestReusesOpenConversation(t *testing.T) {
	store := storage.NewMemoryStorage()
	s := newSessions(store)
	ctx := context.Background()
	at := time.Date(2024, 3, 12, 14, 0, 0, 0, time.UTC)

	first, err := s.Ingest(ctx, inbound("m1", "addr", "hello there friend", at))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	second, err := s.Ingest(ctx, inbound("m2", "addr", "one more thing", at.Add(time.Minute)))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if first.Conversation.ID != second.Conversation.ID {
		t.Errorf("expected one open conversation, got %d and %d", first.Conversation.ID, second.Conversation.ID)
	}
	if second.Conversation.MessageCount != 2 {
		t.Errorf("message count = %d, want 2", second.Conversation.MessageCount)
	}
	if second.FirstContact {
		t.Error("second message should not be first contact")
	}
}

func TestPriorityEscalationIsMonotonic(t *testing.T) {
	store := storage.NewMemoryStorage()
	s := newSessions(store)
	ctx := context.Background()
	at := time.Date(2024, 3, 12, 14, 0, 0, 0, time.UTC)

	res, err := s.Ingest(ctx, inbound("m1", "addr", "this is urgent, emergency", at))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Conversation.Priority != models.PriorityUrgent {
		t.Fatalf("priority = %q, want urgent", res.Conversation.Priority)
	}

	// A calm follow-up must not downgrade the conversation.
	res, err = s.Ingest(ctx, inbound("m2", "addr", "no rush by the way", at.Add(time.Minute)))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Conversation.Priority != models.PriorityUrgent {
		t.Errorf("priority after calm message = %q, want urgent", res.Conversation.Priority)
	}
}

func TestIngestIdempotentOnExternalID(t *testing.T) {
	store := storage.NewMemoryStorage()
	s := newSessions(store)
	ctx := context.Background()
	at := time.Date(2024, 3, 12, 14, 0, 0, 0, time.UTC)

	first, err := s.Ingest(ctx, inbound("dup", "addr", "hello hello", at))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	replay, err := s.Ingest(ctx, inbound("dup", "addr", "hello hello", at))
	if err != nil {
		t.Fatalf("Ingest replay: %v", err)
	}

	if !replay.Duplicate {
		t.Error("expected replay to be flagged duplicate")
	}
	if replay.Message.ID != first.Message.ID {
		t.Errorf("replay returned message %q, want original %q", replay.Message.ID, first.Message.ID)
	}
	if replay.Conversation.MessageCount != 1 {
		t.Errorf("message count after replay = %d, want 1", replay.Conversation.MessageCount)
	}
}

func TestIngestStorageErrorPropagates(t *testing.T) {
	store := storage.NewMemoryStorage()
	s := newSessions(store)
	store.FailWith(context.DeadlineExceeded)

	_, err := s.Ingest(context.Background(), inbound("m1", "addr", "hi", time.Now()))
	if err == nil {
		t.Fatal("expected storage error to propagate")
	}
	var storageErr *storage.Error
	if !errors.As(err, &storageErr) {
		t.Errorf("expected *storage.Error, got %T: %v", err, err)
	}
}

func TestResolveAndArchive(t *testing.T) {
	store := storage.NewMemoryStorage()
	s := newSessions(store)
	ctx := context.Background()

	res, err := s.Ingest(ctx, inbound("m1", "addr", "hi there everyone", time.Now().AddDate(0, 0, -10)))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if err := s.MarkResolved(ctx, res.Conversation); err != nil {
		t.Fatalf("MarkResolved: %v", err)
	}
	if res.Conversation.ResolvedAt == nil {
		t.Fatal("ResolvedAt not set")
	}
	resolvedAt := *res.Conversation.ResolvedAt

	// Resolving again must not move the timestamp.
	res.Conversation.Status = models.StatusActive
	if err := s.MarkResolved(ctx, res.Conversation); err != nil {
		t.Fatalf("MarkResolved again: %v", err)
	}
	if !res.Conversation.ResolvedAt.Equal(resolvedAt) {
		t.Error("ResolvedAt changed on re-resolve")
	}

	// Backdate the resolution so the archive cutoff catches it.
	old := time.Now().AddDate(0, 0, -8)
	res.Conversation.ResolvedAt = &old
	if err := store.UpdateConversation(ctx, res.Conversation); err != nil {
		t.Fatalf("UpdateConversation: %v", err)
	}

	n, err := s.ArchiveStale(ctx, 7)
	if err != nil {
		t.Fatalf("ArchiveStale: %v", err)
	}
	if n != 1 {
		t.Errorf("archived %d conversations, want 1", n)
	}

	// Idempotent: the second run finds nothing.
	n, err = s.ArchiveStale(ctx, 7)
	if err != nil {
		t.Fatalf("ArchiveStale second run: %v", err)
	}
	if n != 0 {
		t.Errorf("second archive run touched %d conversations, want 0", n)
	}

	// A new inbound after archive opens a fresh conversation.
	again, err := s.Ingest(ctx, inbound("m2", "addr", "back again with more", time.Now()))
	if err != nil {
		t.Fatalf("Ingest after archive: %v", err)
	}
	if again.Conversation.ID == res.Conversation.ID {
		t.Error("expected a fresh conversation after archive")
	}
}

func TestRecordAssistantReply(t *testing.T) {
	store := storage.NewMemoryStorage()
	s := newSessions(store)
	ctx := context.Background()

	res, err := s.Ingest(ctx, inbound("m1", "addr", "hello out there", time.Now()))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	msg, err := s.RecordAssistantReply(ctx, res.Contact, res.Conversation, "got it, on my way")
	if err != nil {
		t.Fatalf("RecordAssistantReply: %v", err)
	}
	if msg.Sender != models.SenderAssistant {
		t.Errorf("sender = %q, want assistant", msg.Sender)
	}

	last, err := store.LastAssistantReplyAt(ctx, res.Contact.ID)
	if err != nil {
		t.Fatalf("LastAssistantReplyAt: %v", err)
	}
	if last.IsZero() {
		t.Error("assistant reply not visible to governor queries")
	}
	if res.Conversation.Status != models.StatusWaiting {
		t.Errorf("conversation status = %q, want waiting after reply", res.Conversation.Status)
	}
}

func TestConcurrentIngestSharesConversation(t *testing.T) {
	store := storage.NewMemoryStorage()
	s := newSessions(store)
	ctx := context.Background()
	at := time.Date(2024, 3, 12, 14, 0, 0, 0, time.UTC)

	const n = 2
	var wg sync.WaitGroup
	results := make([]*IngestResult, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.Ingest(ctx,
				inbound(fmt.Sprintf("c%d", i), "addr", "hello there", at.Add(time.Duration(i)*time.Second)))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Ingest %d: %v", i, err)
		}
	}
	if results[0].Conversation.ID != results[1].Conversation.ID {
		t.Errorf("concurrent ingests opened conversations %d and %d, want one",
			results[0].Conversation.ID, results[1].Conversation.ID)
	}

	conv, err := store.OpenConversation(ctx, results[0].Contact.ID)
	if err != nil {
		t.Fatalf("OpenConversation: %v", err)
	}
	if conv.MessageCount != n {
		t.Errorf("message count = %d, want %d", conv.MessageCount, n)
	}
}

func TestRecentContextTurns(t *testing.T) {
	store := storage.NewMemoryStorage()
	s := newSessions(store)
	ctx := context.Background()

	res, err := s.Ingest(ctx, inbound("m1", "addr", "where is my order?", time.Now()))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if _, err := s.RecordAssistantReply(ctx, res.Contact, res.Conversation, "it ships tomorrow"); err != nil {
		t.Fatalf("RecordAssistantReply: %v", err)
	}

	turns := s.RecentContext(res.Contact.ID)
	if len(turns) != 2 {
		t.Fatalf("len(turns) = %d, want 2", len(turns))
	}
	if turns[0].Assistant || turns[0].Content != "where is my order?" {
		t.Errorf("turns[0] = %+v, want the user message first", turns[0])
	}
	if !turns[1].Assistant || turns[1].Content != "it ships tomorrow" {
		t.Errorf("turns[1] = %+v, want the assistant reply", turns[1])
	}

	if got := s.RecentContext(999); got != nil {
		t.Errorf("unknown contact context = %v, want nil", got)
	}
}

func TestGroupAddressDerivation(t *testing.T) {
	store := storage.NewMemoryStorage()
	s := newSessions(store)

	res, err := s.Ingest(context.Background(), inbound("m1", "1234-5678@g.us", "hello team", time.Now()))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !res.Contact.IsGroup {
		t.Error("expected group contact for @g.us address")
	}

	// An explicit hint overrides the address shape.
	hint := false
	in := inbound("m2", "other@g.us", "hi", time.Now())
	in.IsGroup = &hint
	res, err = s.Ingest(context.Background(), in)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Contact.IsGroup {
		t.Error("hint should override address-derived group flag")
	}
}

func TestHistoryRing(t *testing.T) {
	h := NewHistory(3)
	at := time.Now()

	for i := 0; i < 5; i++ {
		h.Append(1, Entry{Sender: models.SenderUser, Content: string(rune('a' + i)), At: at})
	}

	recent := h.Recent(1)
	if len(recent) != 3 {
		t.Fatalf("len(recent) = %d, want 3", len(recent))
	}
	if recent[0].Content != "c" || recent[2].Content != "e" {
		t.Errorf("ring contents = %v, want oldest c .. newest e", recent)
	}

	if n := h.SweepIdle(time.Hour, at.Add(2*time.Hour)); n != 1 {
		t.Errorf("SweepIdle evicted %d, want 1", n)
	}
	if h.Recent(1) != nil {
		t.Error("history should be empty after sweep")
	}
}
