package windower

import (
	"sort"
	"strings"
	"time"

	"github.com/xaenox/triagebot/internal/models"
)

// DefaultIdleGap closes a window after this much quiet time.
const DefaultIdleGap = 30 * time.Minute

const (
	verbatimLimit = 120
	truncateAt    = 100
)

// Windower groups a flat message set into per-contact conversation
// clusters using an idle-gap rule. It holds no state and reads no
// clocks: given the same input set it produces byte-identical output.
type Windower struct {
	idleGap time.Duration
}

func New(idleGap time.Duration) *Windower {
	if idleGap <= 0 {
		idleGap = DefaultIdleGap
	}
	return &Windower{idleGap: idleGap}
}

// Cluster sorts the messages by (contact, time) and walks them, opening
// a new cluster on contact change or when the gap since the running
// cluster's end reaches the idle gap. Output is ordered by start time.
func (w *Windower) Cluster(messages []*models.Message) []*models.Cluster {
	if len(messages) == 0 {
		return nil
	}

	sorted := make([]*models.Message, len(messages))
	copy(sorted, messages)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.ContactID != b.ContactID {
			return a.ContactID < b.ContactID
		}
		if !a.SentAt.Equal(b.SentAt) {
			return a.SentAt.Before(b.SentAt)
		}
		return a.ID < b.ID
	})

	var clusters []*models.Cluster
	var current *models.Cluster
	for _, msg := range sorted {
		if current == nil || msg.ContactID != current.ContactID || msg.SentAt.Sub(current.EndAt) >= w.idleGap {
			if current != nil {
				current.Summary = summarize(current.Messages)
			}
			current = &models.Cluster{
				ContactID: msg.ContactID,
				StartAt:   msg.SentAt,
				EndAt:     msg.SentAt,
			}
			clusters = append(clusters, current)
		}
		current.Messages = append(current.Messages, msg)
		if msg.SentAt.After(current.EndAt) {
			current.EndAt = msg.SentAt
		}
	}
	if current != nil {
		current.Summary = summarize(current.Messages)
	}

	sort.SliceStable(clusters, func(i, j int) bool {
		a, b := clusters[i], clusters[j]
		if !a.StartAt.Equal(b.StartAt) {
			return a.StartAt.Before(b.StartAt)
		}
		return a.ContactID < b.ContactID
	})
	return clusters
}

// Topic patterns scanned in priority order over the combined lowercase
// text of multi-message clusters.
var topicPhrases = []struct {
	summary  string
	keywords []string
}{
	{"Discussed scheduling an appointment", []string{"schedule", "appointment", "reschedule", "meeting", "calendar", "agendar"}},
	{"Asked to get on a call", []string{"call me", "phone", "ligar", "call you", "give me a call"}},
	{"Exchanged documents", []string{"document", "file", "attachment", "pdf", "contract", "documento"}},
	{"Talked about meeting for a meal", []string{"lunch", "dinner", "breakfast", "coffee", "almoço", "jantar"}},
	{"Confirmed details", []string{"confirm", "confirmed", "agreed", "deal", "confirmar"}},
}

func summarize(messages []*models.Message) string {
	var userMsgs []*models.Message
	for _, m := range messages {
		if m.Sender == models.SenderUser {
			userMsgs = append(userMsgs, m)
		}
	}

	if len(userMsgs) == 1 {
		return clip(userMsgs[0].Content)
	}

	if len(userMsgs) > 1 {
		var combined strings.Builder
		for _, m := range userMsgs {
			combined.WriteString(strings.ToLower(m.Content))
			combined.WriteByte(' ')
		}
		text := combined.String()
		for _, topic := range topicPhrases {
			for _, kw := range topic.keywords {
				if strings.Contains(text, kw) {
					return topic.summary
				}
			}
		}
	}

	// No user messages, or no topic matched: first message, clipped.
	return clip(messages[0].Content)
}

// clip returns text verbatim up to 120 chars, otherwise truncated to at
// most 100 chars at the nearest preceding space with an ellipsis.
func clip(text string) string {
	runes := []rune(text)
	if len(runes) <= verbatimLimit {
		return text
	}
	cut := truncateAt
	for cut > 0 && runes[cut] != ' ' {
		cut--
	}
	if cut == 0 {
		cut = truncateAt
	}
	return strings.TrimRight(string(runes[:cut]), " ") + "..."
}
