package intent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/triagebot/internal/inference"
	"github.com/xaenox/triagebot/internal/models"
	"github.com/xaenox/triagebot/internal/storage"
	"go.uber.org/zap"
)

// A nil inference client keeps the router on the fallback path.
func newFallbackRouter(store Store) *Router {
	return NewRouter(nil, store, nil, nil, Persona{Name: "assistant"}, zap.NewNop())
}

type staticHistory []inference.Turn

func (h staticHistory) RecentContext(int64) []inference.Turn { return h }

func TestFallbackTodayQuery(t *testing.T) {
	r := newFallbackRouter(storage.NewMemoryStorage())

	res := r.Route(context.Background(), "show me today's messages", 0)

	if res.Intent != IntentMessageQuery {
		t.Errorf("intent = %q, want message_query", res.Intent)
	}
	if res.Confidence > 0.7 {
		t.Errorf("fallback confidence = %v, want <= 0.7", res.Confidence)
	}
	tf := res.Entities.Timeframe
	if tf == nil {
		t.Fatal("expected a timeframe entity")
	}
	if tf.Value != 0 || tf.Unit != UnitDays || tf.Relative != RelativeToday {
		t.Errorf("timeframe = %+v, want {0 days today}", *tf)
	}
	if res.Response == "" {
		t.Error("response must never be empty")
	}
}

func TestFallbackYesterdayKeepsDistinctRelative(t *testing.T) {
	r := newFallbackRouter(storage.NewMemoryStorage())

	res := r.Route(context.Background(), "summary of yesterday please", 0)
	tf := res.Entities.Timeframe
	if tf == nil || tf.Relative != RelativeYesterday {
		t.Errorf("timeframe = %+v, want relative yesterday", tf)
	}
}

func TestFallbackHelp(t *testing.T) {
	r := newFallbackRouter(storage.NewMemoryStorage())

	res := r.Route(context.Background(), "help", 0)
	if res.Intent != IntentHelp {
		t.Errorf("intent = %q, want help", res.Intent)
	}
	if !strings.Contains(res.Response, "show me today's messages") {
		t.Error("help response should list example queries")
	}
}

func TestFallbackGeneralConversation(t *testing.T) {
	r := newFallbackRouter(storage.NewMemoryStorage())

	res := r.Route(context.Background(), "nice weather we're having", 0)
	if res.Intent != IntentConversation {
		t.Errorf("intent = %q, want conversation", res.Intent)
	}
	// Backend disabled: a static, non-empty reply.
	if res.Response == "" {
		t.Error("conversation response must degrade to a static message")
	}
}

func TestRouteRetrievesMessages(t *testing.T) {
	store := storage.NewMemoryStorage()
	seedMessages(t, store, 3, time.Now().Add(-time.Hour))
	r := newFallbackRouter(store)

	res := r.Route(context.Background(), "show me recent messages", 0)
	if res.Retrieval == nil {
		t.Fatal("expected retrieval")
	}
	if len(res.Retrieval.Messages) != 3 {
		t.Errorf("retrieved %d messages, want 3", len(res.Retrieval.Messages))
	}
	if !strings.Contains(res.Response, "Found 3 message(s)") {
		t.Errorf("response = %q, want message listing", res.Response)
	}
}

func TestRouteRetrievalFailureStillResponds(t *testing.T) {
	store := storage.NewMemoryStorage()
	store.FailWith(context.DeadlineExceeded)
	r := newFallbackRouter(store)

	res := r.Route(context.Background(), "show me today's messages", 0)
	if res.Retrieval == nil || !res.Retrieval.NoData {
		t.Error("expected a no-data retrieval marker")
	}
	if res.Response == "" {
		t.Error("response must not be empty after a retrieval failure")
	}
	if strings.Contains(strings.ToLower(res.Response), "error") {
		t.Errorf("raw errors must not leak to the user: %q", res.Response)
	}
}

func TestChatWithHistoryDegradesWhenDisabled(t *testing.T) {
	r := NewRouter(nil, storage.NewMemoryStorage(), nil,
		staticHistory{{Content: "earlier message"}}, Persona{}, zap.NewNop())

	res := r.Route(context.Background(), "nice weather we're having", 7)
	if res.Intent != IntentConversation {
		t.Errorf("intent = %q, want conversation", res.Intent)
	}
	if res.Response == "" {
		t.Error("response must not be empty with history present and backend disabled")
	}
}

func TestParseTimeframe(t *testing.T) {
	if tf := ParseTimeframe("what happened Yesterday?"); tf.Relative != RelativeYesterday {
		t.Errorf("relative = %q, want yesterday", tf.Relative)
	}
	if tf := ParseTimeframe("anything new"); tf.Value != 24 || tf.Unit != UnitHours {
		t.Errorf("default timeframe = %+v, want trailing 24 hours", tf)
	}
}

func TestExtractTimeframeFallsBackToKeywords(t *testing.T) {
	r := newFallbackRouter(storage.NewMemoryStorage())

	// No query keyword, so the fallback intent carries no timeframe and
	// extraction falls through to the keyword timeframe parse.
	tf := r.ExtractTimeframe(context.Background(), "just checking in since yesterday")
	if tf == nil || tf.Relative != RelativeYesterday {
		t.Errorf("timeframe = %+v, want relative yesterday", tf)
	}

	if tf := r.ExtractTimeframe(context.Background(), ""); tf.Relative != RelativeToday {
		t.Errorf("empty query timeframe = %+v, want today", tf)
	}
}

func TestNormalizeTimeframe(t *testing.T) {
	tests := []struct {
		in   Timeframe
		want Timeframe
	}{
		{Timeframe{Unit: "Hour", Relative: "Today"}, Timeframe{Unit: UnitHours, Relative: RelativeToday}},
		{Timeframe{Unit: "day", Relative: "YESTERDAY"}, Timeframe{Unit: UnitDays, Relative: RelativeYesterday}},
		{Timeframe{Unit: "weeks", Relative: "recent"}, Timeframe{Unit: UnitWeeks, Relative: RelativePast}},
	}

	for _, tt := range tests {
		got := tt.in
		normalizeTimeframe(&got)
		if got.Unit != tt.want.Unit || got.Relative != tt.want.Relative {
			t.Errorf("normalizeTimeframe(%+v) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestFilterMessages(t *testing.T) {
	messages := []*models.Message{
		{ID: "1", Sender: models.SenderUser, Type: models.TypeText, Content: "about the invoice"},
		{ID: "2", Sender: models.SenderAssistant, Type: models.TypeText, Content: "here you go"},
		{ID: "3", Sender: models.SenderUser, Type: models.TypeImage, Content: "photo"},
	}

	bySender := filterMessages(messages, Entities{Sender: &SenderFilter{Type: "user"}})
	if len(bySender) != 2 {
		t.Errorf("sender filter kept %d, want 2", len(bySender))
	}

	byType := filterMessages(messages, Entities{MessageTypes: []string{"image"}})
	if len(byType) != 1 || byType[0].ID != "3" {
		t.Errorf("type filter = %v, want message 3", byType)
	}

	byContent := filterMessages(messages, Entities{ContentFilter: &ContentFilter{Keywords: []string{"invoice"}}})
	if len(byContent) != 1 || byContent[0].ID != "1" {
		t.Errorf("content filter = %v, want message 1", byContent)
	}

	excluded := filterMessages(messages, Entities{ContentFilter: &ContentFilter{Exclude: []string{"invoice"}}})
	if len(excluded) != 2 {
		t.Errorf("exclude filter kept %d, want 2", len(excluded))
	}
}

func seedMessages(t *testing.T, store *storage.MemoryStorage, n int, at time.Time) {
	t.Helper()
	ctx := context.Background()

	contact := &models.Contact{Address: "addr", Priority: models.PriorityMedium, Category: models.CategoryUnknown, LastSeenAt: at}
	if err := store.CreateContact(ctx, contact); err != nil {
		t.Fatalf("CreateContact: %v", err)
	}
	conv := &models.Conversation{ContactID: contact.ID, Status: models.StatusActive, Priority: models.PriorityMedium, Category: models.CategoryUnknown, LastMessageAt: at}
	if err := store.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	for i := 0; i < n; i++ {
		conv.MessageCount++
		msg := &models.Message{
			ID:             uuid.New().String(),
			ConversationID: conv.ID,
			ContactID:      contact.ID,
			Type:           models.TypeText,
			Sender:         models.SenderUser,
			Content:        "seeded message",
			SentAt:         at.Add(time.Duration(i) * time.Minute),
		}
		if err := store.RecordMessage(ctx, msg, conv); err != nil {
			t.Fatalf("RecordMessage: %v", err)
		}
	}
}
