package report

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/triagebot/internal/models"
	"github.com/xaenox/triagebot/internal/storage"
	"github.com/xaenox/triagebot/internal/windower"
	"go.uber.org/zap"
)

var rangeStart = time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC)

func newBuilder(store Store) *Builder {
	return NewBuilder(store, windower.New(windower.DefaultIdleGap), nil, zap.NewNop())
}

type seed struct {
	sender   models.Sender
	msgType  models.MessageType
	priority models.Priority
	category models.Category
	content  string
	isGroup  bool
}

func seedStore(t *testing.T, seeds []seed) *storage.MemoryStorage {
	t.Helper()
	store := storage.NewMemoryStorage()
	ctx := context.Background()

	for i, sd := range seeds {
		contact := &models.Contact{
			Address:    uuid.New().String(),
			IsGroup:    sd.isGroup,
			Priority:   models.PriorityMedium,
			Category:   models.CategoryUnknown,
			LastSeenAt: rangeStart,
		}
		if err := store.CreateContact(ctx, contact); err != nil {
			t.Fatalf("CreateContact: %v", err)
		}
		conv := &models.Conversation{
			ContactID:     contact.ID,
			Status:        models.StatusActive,
			Priority:      sd.priority,
			Category:      sd.category,
			LastMessageAt: rangeStart,
		}
		if err := store.CreateConversation(ctx, conv); err != nil {
			t.Fatalf("CreateConversation: %v", err)
		}
		conv.MessageCount++
		msg := &models.Message{
			ID:             uuid.New().String(),
			ConversationID: conv.ID,
			ContactID:      contact.ID,
			Type:           sd.msgType,
			Sender:         sd.sender,
			Content:        sd.content,
			Classification: models.Classification{
				Priority: sd.priority,
				Category: sd.category,
			},
			SentAt: rangeStart.Add(time.Duration(i) * time.Minute),
		}
		if err := store.RecordMessage(ctx, msg, conv); err != nil {
			t.Fatalf("RecordMessage: %v", err)
		}
	}
	return store
}

func TestAggregateSumsMatchTotal(t *testing.T) {
	store := seedStore(t, []seed{
		{models.SenderUser, models.TypeText, models.PriorityUrgent, models.CategorySupport, "server is down", false},
		{models.SenderUser, models.TypeImage, models.PriorityMedium, models.CategoryPersonal, "photo", true},
		{models.SenderAssistant, models.TypeText, models.PriorityLow, models.CategoryOther, "here you go", false},
		{models.SenderUser, models.TypeText, models.PriorityHigh, models.CategorySales, "need that quote", false},
	})

	rep, err := newBuilder(store).Build(context.Background(), rangeStart, rangeStart.Add(time.Hour))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	agg := rep.Aggregates
	if agg.Total != 4 {
		t.Fatalf("Total = %d, want 4", agg.Total)
	}

	sum := 0
	for _, n := range agg.ByPriority {
		sum += n
	}
	if sum != agg.Total {
		t.Errorf("byPriority sums to %d, want %d", sum, agg.Total)
	}

	sum = 0
	for _, n := range agg.BySender {
		sum += n
	}
	if sum != agg.Total {
		t.Errorf("bySender sums to %d, want %d", sum, agg.Total)
	}

	sum = 0
	for _, n := range agg.ByCategory {
		sum += n
	}
	if sum != agg.Total {
		t.Errorf("byCategory sums to %d, want %d", sum, agg.Total)
	}

	if agg.FromGroups+agg.FromIndividuals != agg.Total {
		t.Errorf("groups(%d) + individuals(%d) != total(%d)", agg.FromGroups, agg.FromIndividuals, agg.Total)
	}
	if agg.FromGroups != 1 {
		t.Errorf("FromGroups = %d, want 1", agg.FromGroups)
	}
	if agg.AssistantReplies != 1 {
		t.Errorf("AssistantReplies = %d, want 1", agg.AssistantReplies)
	}
	if agg.MediaTotal != 1 {
		t.Errorf("MediaTotal = %d, want 1", agg.MediaTotal)
	}
}

func TestRenderSectionsAndOmissions(t *testing.T) {
	store := seedStore(t, []seed{
		{models.SenderUser, models.TypeText, models.PriorityUrgent, models.CategorySupport, "the server is down, please fix", false},
		{models.SenderUser, models.TypeText, models.PriorityMedium, models.CategoryInquiry, "is anyone around", false},
	})

	rep, err := newBuilder(store).Build(context.Background(), rangeStart, rangeStart.Add(time.Hour))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	text := rep.Text
	for _, want := range []string{"Total messages: 2", "By priority:", "Urgent:", "By category:"} {
		if !strings.Contains(text, want) {
			t.Errorf("report missing %q:\n%s", want, text)
		}
	}
	// No assistant replies, no media, no action items: those sections
	// are omitted outright.
	for _, absent := range []string{"Assistant activity", "Media:", "Action items:"} {
		if strings.Contains(text, absent) {
			t.Errorf("report should omit %q when its count is zero:\n%s", absent, text)
		}
	}
	if len(rep.UrgentItems) != 1 {
		t.Errorf("UrgentItems = %v, want exactly the one urgent message", rep.UrgentItems)
	}
}

func TestRenderEmptyRange(t *testing.T) {
	store := storage.NewMemoryStorage()

	rep, err := newBuilder(store).Build(context.Background(), rangeStart, rangeStart.Add(time.Hour))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if rep.Aggregates.Total != 0 {
		t.Errorf("Total = %d, want 0", rep.Aggregates.Total)
	}
	if !strings.Contains(rep.Text, "Total messages: 0") {
		t.Errorf("empty report text = %q", rep.Text)
	}
	if strings.Contains(rep.Text, "By priority") {
		t.Error("empty report should contain no breakdowns")
	}
}

func TestUrgentItemsBounded(t *testing.T) {
	var seeds []seed
	for i := 0; i < 8; i++ {
		seeds = append(seeds, seed{models.SenderUser, models.TypeText, models.PriorityUrgent, models.CategorySupport, "urgent thing", false})
	}
	store := seedStore(t, seeds)

	rep, err := newBuilder(store).Build(context.Background(), rangeStart, rangeStart.Add(time.Hour))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(rep.UrgentItems) != maxUrgentItems {
		t.Errorf("UrgentItems length = %d, want %d", len(rep.UrgentItems), maxUrgentItems)
	}
}

func TestBuildPropagatesStorageError(t *testing.T) {
	store := storage.NewMemoryStorage()
	store.FailWith(context.DeadlineExceeded)

	if _, err := newBuilder(store).Build(context.Background(), rangeStart, rangeStart.Add(time.Hour)); err == nil {
		t.Fatal("expected storage error to propagate")
	}
}
