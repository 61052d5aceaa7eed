package intent

import (
	"time"

	"github.com/xaenox/triagebot/internal/models"
)

// Intent is the routed meaning of a free-text query.
type Intent string

const (
	IntentMessageQuery      Intent = "message_query"
	IntentContactQuery      Intent = "contact_query"
	IntentConversationQuery Intent = "conversation_query"
	IntentSummary           Intent = "summary"
	IntentClarification     Intent = "clarification_needed"
	IntentHelp              Intent = "help"
	IntentConversation      Intent = "conversation"
)

var knownIntents = map[Intent]bool{
	IntentMessageQuery:      true,
	IntentContactQuery:      true,
	IntentConversationQuery: true,
	IntentSummary:           true,
	IntentClarification:     true,
	IntentHelp:              true,
	IntentConversation:      true,
}

// Timeframe relative anchors. Today and yesterday are distinct values
// end-to-end: they must never collapse into the generic past, because
// date-range computation branches on them.
const (
	RelativeToday     = "today"
	RelativeYesterday = "yesterday"
	RelativePast      = "past"
	RelativeFuture    = "future"
)

// Timeframe units.
const (
	UnitMinutes = "minutes"
	UnitHours   = "hours"
	UnitDays    = "days"
	UnitWeeks   = "weeks"
)

type Timeframe struct {
	Value    int    `json:"value"`
	Unit     string `json:"unit"`
	Relative string `json:"relative"`
}

type SenderFilter struct {
	Type string `json:"type,omitempty"`
	Name string `json:"name,omitempty"`
}

type ContentFilter struct {
	Keywords []string `json:"keywords,omitempty"`
	Exclude  []string `json:"exclude,omitempty"`
}

// Entities is the structured slot set extracted from a query.
type Entities struct {
	Timeframe     *Timeframe     `json:"timeframe,omitempty"`
	Sender        *SenderFilter  `json:"sender,omitempty"`
	ContentFilter *ContentFilter `json:"content_filter,omitempty"`
	MessageTypes  []string       `json:"message_types,omitempty"`
	Priority      string         `json:"priority,omitempty"`
}

// Retrieval is the data fetched for an intent. NoData marks retrieval
// that failed or matched nothing; response generation still proceeds.
type Retrieval struct {
	From     time.Time         `json:"from"`
	To       time.Time         `json:"to"`
	Messages []*models.Message `json:"messages,omitempty"`
	NoData   bool              `json:"no_data"`
}

// Result is the full routing outcome for one query.
type Result struct {
	Intent     Intent     `json:"intent"`
	Entities   Entities   `json:"entities"`
	Confidence float64    `json:"confidence"`
	Retrieval  *Retrieval `json:"retrieval,omitempty"`
	Response   string     `json:"response"`
}
