package intent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xaenox/triagebot/internal/inference"
	"github.com/xaenox/triagebot/internal/models"
	"go.uber.org/zap"
)

// Store is the retrieval slice of the persistent store the router uses.
type Store interface {
	MessagesInRange(ctx context.Context, from, to time.Time) ([]*models.Message, error)
	ContactMessagesInRange(ctx context.Context, contactID int64, from, to time.Time) ([]*models.Message, error)
}

// Reports renders a summary report for a resolved date range.
type Reports interface {
	Render(ctx context.Context, from, to time.Time) (string, error)
}

// History supplies the recent exchanges for a contact, included as
// conversation context when generating replies.
type History interface {
	RecentContext(contactID int64) []inference.Turn
}

// Persona carries the system instructions of one reply generator. All
// personas share this router; only their instructions differ.
type Persona struct {
	Name               string
	SystemInstructions string
}

// Router parses free-text queries into intent + entities, retrieves
// matching data, and produces a response. The inference backend is the
// primary extraction path; keyword rules take over whenever it is
// disabled or fails.
type Router struct {
	inference *inference.Client
	store     Store
	reports   Reports
	history   History
	persona   Persona
	logger    *zap.Logger
}

func NewRouter(inf *inference.Client, store Store, reports Reports, history History, persona Persona, logger *zap.Logger) *Router {
	return &Router{
		inference: inf,
		store:     store,
		reports:   reports,
		history:   history,
		persona:   persona,
		logger:    logger,
	}
}

const maxListedMessages = 10

const extractionInstructions = `You extract structured intents from chat queries.
Respond with ONLY a JSON object, no prose, in this exact shape:
{
  "intent": "message_query|contact_query|conversation_query|summary|help|conversation",
  "confidence": 0.0,
  "entities": {
    "timeframe": {"value": 0, "unit": "minutes|hours|days|weeks", "relative": "today|yesterday|past|future"},
    "sender": {"type": "user|assistant", "name": ""},
    "content_filter": {"keywords": [], "exclude": []},
    "message_types": [],
    "priority": ""
  }
}
Omit entity fields you cannot fill. Use relative "today" or "yesterday"
when the query names those days; never replace them with "past".`

// Route processes one free-text query scoped to a requesting contact
// (0 means unscoped). It never returns an error: every failure path
// degrades to a non-empty response.
func (r *Router) Route(ctx context.Context, text string, contactID int64) Result {
	result := r.extract(ctx, text)

	switch result.Intent {
	case IntentMessageQuery, IntentConversationQuery, IntentContactQuery, IntentSummary:
		r.retrieve(ctx, &result, contactID)
	}

	r.respond(ctx, &result, text, contactID)
	return result
}

// ExtractTimeframe runs extraction for the timeframe slot alone,
// backend-first with the keyword fallback. Used by callers that already
// know the intent, like the summary API.
func (r *Router) ExtractTimeframe(ctx context.Context, text string) *Timeframe {
	if text == "" {
		return &Timeframe{Value: 0, Unit: UnitDays, Relative: RelativeToday}
	}
	res := r.extract(ctx, text)
	if res.Entities.Timeframe != nil {
		return res.Entities.Timeframe
	}
	return ParseTimeframe(text)
}

// extract runs the primary inference extraction, falling back to
// keyword rules on any backend failure.
func (r *Router) extract(ctx context.Context, text string) Result {
	if !r.inference.Enabled() {
		return fallbackParse(text)
	}

	var raw struct {
		Intent     string   `json:"intent"`
		Confidence float64  `json:"confidence"`
		Entities   Entities `json:"entities"`
	}
	err := r.inference.CompleteJSON(ctx, extractionInstructions, text, &raw)
	if err != nil {
		if !errors.Is(err, inference.ErrDisabled) {
			r.logger.Warn("intent extraction failed, using keyword fallback", zap.Error(err))
		}
		return fallbackParse(text)
	}

	result := Result{
		Intent:     Intent(strings.ToLower(strings.TrimSpace(raw.Intent))),
		Entities:   raw.Entities,
		Confidence: raw.Confidence,
	}
	if !knownIntents[result.Intent] {
		result.Intent = IntentConversation
	}
	if result.Confidence <= 0 || result.Confidence > 1 {
		result.Confidence = 0.8
	}
	normalizeTimeframe(result.Entities.Timeframe)
	return result
}

// normalizeTimeframe cleans backend output. The distinct "today" and
// "yesterday" anchors are preserved; only unknown values degrade to
// "past".
func normalizeTimeframe(tf *Timeframe) {
	if tf == nil {
		return
	}
	tf.Unit = strings.ToLower(strings.TrimSpace(tf.Unit))
	tf.Relative = strings.ToLower(strings.TrimSpace(tf.Relative))
	switch tf.Relative {
	case RelativeToday, RelativeYesterday, RelativePast, RelativeFuture, "":
	default:
		tf.Relative = RelativePast
	}
	switch tf.Unit {
	case "minute", "min":
		tf.Unit = UnitMinutes
	case "hour", "hr", "hrs":
		tf.Unit = UnitHours
	case "day":
		tf.Unit = UnitDays
	case "week":
		tf.Unit = UnitWeeks
	}
}

// retrieve resolves the date range and fetches messages. A storage
// failure does not abort routing: the result carries a no-data marker
// and response generation proceeds.
func (r *Router) retrieve(ctx context.Context, result *Result, contactID int64) {
	from, to, err := DateRange(result.Entities.Timeframe, time.Now())
	if err != nil {
		var bad *ErrBadTimeframe
		if errors.As(err, &bad) {
			result.Intent = IntentClarification
			result.Response = fmt.Sprintf("I couldn't work out the time range (%s). Try something like \"today\", \"yesterday\" or \"last 3 days\".", bad.Reason)
			return
		}
		result.Retrieval = &Retrieval{NoData: true}
		return
	}

	retrieval := &Retrieval{From: from, To: to}
	var messages []*models.Message
	if contactID > 0 {
		messages, err = r.store.ContactMessagesInRange(ctx, contactID, from, to)
	} else {
		messages, err = r.store.MessagesInRange(ctx, from, to)
	}
	if err != nil {
		r.logger.Error("retrieval failed, continuing with no data", zap.Error(err))
		retrieval.NoData = true
	} else {
		retrieval.Messages = filterMessages(messages, result.Entities)
		retrieval.NoData = len(retrieval.Messages) == 0
	}
	result.Retrieval = retrieval
}

// filterMessages applies the extracted entity filters.
func filterMessages(messages []*models.Message, entities Entities) []*models.Message {
	out := messages
	if entities.Sender != nil && entities.Sender.Type != "" {
		out = keep(out, func(m *models.Message) bool {
			return string(m.Sender) == entities.Sender.Type
		})
	}
	if len(entities.MessageTypes) > 0 {
		allowed := make(map[string]bool, len(entities.MessageTypes))
		for _, t := range entities.MessageTypes {
			allowed[strings.ToLower(t)] = true
		}
		out = keep(out, func(m *models.Message) bool {
			return allowed[string(m.Type)]
		})
	}
	if entities.Priority != "" {
		out = keep(out, func(m *models.Message) bool {
			return string(m.Classification.Priority) == entities.Priority
		})
	}
	if cf := entities.ContentFilter; cf != nil {
		out = keep(out, func(m *models.Message) bool {
			lower := strings.ToLower(m.Content)
			for _, kw := range cf.Exclude {
				if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
					return false
				}
			}
			for _, kw := range cf.Keywords {
				if kw != "" && !strings.Contains(lower, strings.ToLower(kw)) {
					return false
				}
			}
			return true
		})
	}
	return out
}

func keep(messages []*models.Message, pred func(*models.Message) bool) []*models.Message {
	out := messages[:0:0]
	for _, m := range messages {
		if pred(m) {
			out = append(out, m)
		}
	}
	return out
}

// respond fills Result.Response. Every path produces a non-empty,
// non-technical message even when the backend fails.
func (r *Router) respond(ctx context.Context, result *Result, text string, contactID int64) {
	if result.Response != "" {
		return
	}

	switch result.Intent {
	case IntentHelp:
		result.Response = helpMessage
	case IntentSummary:
		result.Response = r.renderSummary(ctx, result)
	case IntentMessageQuery, IntentConversationQuery, IntentContactQuery:
		result.Response = formatMessageList(result.Retrieval)
	case IntentClarification:
		result.Response = "I didn't quite get that. Could you say when and what you're looking for?"
	default:
		result.Response = r.chat(ctx, text, contactID)
	}
}

const helpMessage = `Here's what you can ask me:
- "show me today's messages"
- "summary of yesterday"
- "what happened this week"
- "messages from the last 3 hours"
Or just write to me and I'll reply.`

func (r *Router) renderSummary(ctx context.Context, result *Result) string {
	if r.reports == nil || result.Retrieval == nil {
		return formatMessageList(result.Retrieval)
	}
	text, err := r.reports.Render(ctx, result.Retrieval.From, result.Retrieval.To)
	if err != nil {
		r.logger.Error("summary rendering failed", zap.Error(err))
		return "I couldn't put a summary together right now. Please try again in a moment."
	}
	return text
}

func formatMessageList(retrieval *Retrieval) string {
	if retrieval == nil || retrieval.NoData {
		return helpMessage
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d message(s) between %s and %s:\n",
		len(retrieval.Messages),
		retrieval.From.Format("Jan 2 15:04"),
		retrieval.To.Format("Jan 2 15:04"))

	for i, m := range retrieval.Messages {
		if i == maxListedMessages {
			fmt.Fprintf(&b, "... and %d more\n", len(retrieval.Messages)-maxListedMessages)
			break
		}
		content := m.Content
		if len(content) > 80 {
			content = content[:77] + "..."
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", m.SentAt.Format("15:04"), m.Sender, content)
	}
	return strings.TrimRight(b.String(), "\n")
}

// chat forwards general conversation to the reply generator with the
// contact's recent exchanges as context, degrading to a static message
// when the backend is unavailable.
func (r *Router) chat(ctx context.Context, text string, contactID int64) string {
	var turns []inference.Turn
	if r.history != nil && contactID > 0 {
		turns = r.history.RecentContext(contactID)
	}
	reply, err := r.inference.Converse(ctx, r.persona.SystemInstructions, turns, text)
	if err != nil {
		if !errors.Is(err, inference.ErrDisabled) {
			r.logger.Warn("reply generation failed, sending static fallback", zap.Error(err))
		}
		return "Thanks for your message! A human will get back to you shortly."
	}
	return reply
}
