package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xaenox/triagebot/internal/inference"
	"github.com/xaenox/triagebot/internal/models"
	"github.com/xaenox/triagebot/internal/windower"
	"go.uber.org/zap"
)

// Store is the slice of the persistent store the builder reads.
type Store interface {
	MessagesInRange(ctx context.Context, from, to time.Time) ([]*models.Message, error)
	ContactByID(ctx context.Context, id int64) (*models.Contact, error)
}

const maxUrgentItems = 5
const maxTopics = 8

// Aggregates are the counts underlying a report. Every by-X map sums to
// Total.
type Aggregates struct {
	Total            int                        `json:"total"`
	ByPriority       map[models.Priority]int    `json:"by_priority"`
	ByCategory       map[models.Category]int    `json:"by_category"`
	BySender         map[models.Sender]int      `json:"by_sender"`
	ByType           map[models.MessageType]int `json:"by_type"`
	FromGroups       int                        `json:"from_groups"`
	FromIndividuals  int                        `json:"from_individuals"`
	AssistantReplies int                        `json:"assistant_replies"`
	MediaTotal       int                        `json:"media_total"`
}

// Report is a rendered summary for a date range plus the raw aggregates
// for programmatic consumers.
type Report struct {
	From        time.Time  `json:"from"`
	To          time.Time  `json:"to"`
	Aggregates  Aggregates `json:"aggregates"`
	UrgentItems []string   `json:"urgent_items,omitempty"`
	ActionItems []string   `json:"action_items,omitempty"`
	Topics      []string   `json:"topics,omitempty"`
	Text        string     `json:"text"`
}

// Builder assembles summary reports. The inference backend is optional:
// action items are simply omitted when it is unavailable.
type Builder struct {
	store     Store
	windower  *windower.Windower
	inference *inference.Client
	logger    *zap.Logger
}

func NewBuilder(store Store, w *windower.Windower, inf *inference.Client, logger *zap.Logger) *Builder {
	return &Builder{
		store:     store,
		windower:  w,
		inference: inf,
		logger:    logger,
	}
}

// Build fetches and aggregates the range and renders the report text.
func (b *Builder) Build(ctx context.Context, from, to time.Time) (*Report, error) {
	messages, err := b.store.MessagesInRange(ctx, from, to)
	if err != nil {
		return nil, err
	}

	rep := &Report{
		From:       from,
		To:         to,
		Aggregates: b.aggregate(ctx, messages),
	}
	rep.UrgentItems = urgentItems(messages)
	rep.ActionItems = b.actionItems(ctx, messages)
	rep.Topics = b.topics(messages)
	rep.Text = render(rep)
	return rep, nil
}

// Render satisfies the intent router's Reports dependency.
func (b *Builder) Render(ctx context.Context, from, to time.Time) (string, error) {
	rep, err := b.Build(ctx, from, to)
	if err != nil {
		return "", err
	}
	return rep.Text, nil
}

func (b *Builder) aggregate(ctx context.Context, messages []*models.Message) Aggregates {
	agg := Aggregates{
		ByPriority: make(map[models.Priority]int),
		ByCategory: make(map[models.Category]int),
		BySender:   make(map[models.Sender]int),
		ByType:     make(map[models.MessageType]int),
	}

	groupByContact := make(map[int64]bool)
	for _, m := range messages {
		agg.Total++
		agg.ByPriority[m.Classification.Priority]++
		agg.ByCategory[m.Classification.Category]++
		agg.BySender[m.Sender]++
		agg.ByType[m.Type]++
		if m.Type != models.TypeText {
			agg.MediaTotal++
		}
		if m.Sender == models.SenderAssistant {
			agg.AssistantReplies++
		}

		isGroup, seen := groupByContact[m.ContactID]
		if !seen {
			contact, err := b.store.ContactByID(ctx, m.ContactID)
			if err != nil {
				b.logger.Warn("contact lookup failed during aggregation",
					zap.Error(err), zap.Int64("contact_id", m.ContactID))
			} else {
				isGroup = contact.IsGroup
			}
			groupByContact[m.ContactID] = isGroup
		}
		if isGroup {
			agg.FromGroups++
		} else {
			agg.FromIndividuals++
		}
	}
	return agg
}

func urgentItems(messages []*models.Message) []string {
	var items []string
	for _, m := range messages {
		if m.Classification.Priority != models.PriorityUrgent || m.Sender != models.SenderUser {
			continue
		}
		items = append(items, fmt.Sprintf("[%s] %s", m.SentAt.Format("Jan 2 15:04"), clip(m.Content, 80)))
		if len(items) == maxUrgentItems {
			break
		}
	}
	return items
}

// actionItems asks the backend to extract follow-ups from user
// messages. Any backend failure drops the section silently.
func (b *Builder) actionItems(ctx context.Context, messages []*models.Message) []string {
	if !b.inference.Enabled() || len(messages) == 0 {
		return nil
	}

	var lines []string
	for _, m := range messages {
		if m.Sender != models.SenderUser {
			continue
		}
		lines = append(lines, clip(m.Content, 120))
		if len(lines) == 30 {
			break
		}
	}
	if len(lines) == 0 {
		return nil
	}

	var out struct {
		ActionItems []string `json:"action_items"`
	}
	err := b.inference.CompleteJSON(ctx,
		`Extract concrete action items from these chat messages. Respond with ONLY {"action_items": ["..."]}. Return an empty list if there are none.`,
		strings.Join(lines, "\n"), &out)
	if err != nil {
		if !errors.Is(err, inference.ErrDisabled) {
			b.logger.Warn("action item extraction failed, omitting section", zap.Error(err))
		}
		return nil
	}
	if len(out.ActionItems) > maxUrgentItems {
		out.ActionItems = out.ActionItems[:maxUrgentItems]
	}
	return out.ActionItems
}

func (b *Builder) topics(messages []*models.Message) []string {
	clusters := b.windower.Cluster(messages)
	var topics []string
	for _, c := range clusters {
		if c.Summary == "" {
			continue
		}
		topics = append(topics, c.Summary)
		if len(topics) == maxTopics {
			break
		}
	}
	return topics
}

// Fixed iteration orders keep rendering deterministic.
var (
	priorityOrder = []models.Priority{models.PriorityUrgent, models.PriorityHigh, models.PriorityMedium, models.PriorityLow}
	categoryOrder = []models.Category{
		models.CategorySupport, models.CategorySales, models.CategoryBusiness,
		models.CategoryInquiry, models.CategoryPersonal, models.CategorySpam,
		models.CategoryUnknown, models.CategoryOther,
	}
	senderOrder = []models.Sender{models.SenderUser, models.SenderAssistant, models.SenderSystem}
	mediaOrder  = []models.MessageType{
		models.TypeImage, models.TypeAudio, models.TypeVideo, models.TypeDocument,
		models.TypeSticker, models.TypeLocation, models.TypeContact, models.TypeReaction,
		models.TypeSystem,
	}
)

// render produces the fixed-structure report. Sections whose underlying
// count is zero are omitted.
func render(rep *Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Summary %s - %s\n", rep.From.Format("Jan 2 15:04"), rep.To.Format("Jan 2 15:04"))
	fmt.Fprintf(&b, "Total messages: %d", rep.Aggregates.Total)
	if rep.Aggregates.Total == 0 {
		return b.String()
	}
	fmt.Fprintf(&b, " (%d from groups, %d from individuals)\n", rep.Aggregates.FromGroups, rep.Aggregates.FromIndividuals)

	var senderParts []string
	for _, s := range senderOrder {
		if n := rep.Aggregates.BySender[s]; n > 0 {
			senderParts = append(senderParts, fmt.Sprintf("%d %s", n, s))
		}
	}
	fmt.Fprintf(&b, "Senders: %s\n", strings.Join(senderParts, ", "))

	b.WriteString("\nBy priority:\n")
	for _, p := range priorityOrder {
		if n := rep.Aggregates.ByPriority[p]; n > 0 {
			fmt.Fprintf(&b, "  %s: %d\n", p, n)
		}
	}

	if len(rep.UrgentItems) > 0 {
		b.WriteString("\nUrgent:\n")
		for _, item := range rep.UrgentItems {
			fmt.Fprintf(&b, "  - %s\n", item)
		}
	}

	if len(rep.ActionItems) > 0 {
		b.WriteString("\nAction items:\n")
		for _, item := range rep.ActionItems {
			fmt.Fprintf(&b, "  - %s\n", item)
		}
	}

	b.WriteString("\nBy category:\n")
	for _, c := range categoryOrder {
		if n := rep.Aggregates.ByCategory[c]; n > 0 {
			fmt.Fprintf(&b, "  %s: %d\n", c, n)
		}
	}

	if rep.Aggregates.AssistantReplies > 0 {
		fmt.Fprintf(&b, "\nAssistant activity: %d automated replies\n", rep.Aggregates.AssistantReplies)
	}

	if rep.Aggregates.MediaTotal > 0 {
		b.WriteString("\nMedia:\n")
		for _, t := range mediaOrder {
			if n := rep.Aggregates.ByType[t]; n > 0 {
				fmt.Fprintf(&b, "  %s: %d\n", t, n)
			}
		}
	}

	if len(rep.Topics) > 0 {
		b.WriteString("\nConversation topics:\n")
		for _, topic := range rep.Topics {
			fmt.Fprintf(&b, "  - %s\n", topic)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func clip(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max-3]) + "..."
}
