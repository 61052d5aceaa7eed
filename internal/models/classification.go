package models

// MessageKind is a coarse heuristic of what a message is doing.
type MessageKind string

const (
	KindQuestion     MessageKind = "question"
	KindGreeting     MessageKind = "greeting"
	KindGratitude    MessageKind = "gratitude"
	KindConfirmation MessageKind = "confirmation"
	KindRequest      MessageKind = "request"
	KindStatement    MessageKind = "statement"
)

// Contextual flags attached by the classifier.
const (
	FlagOutsideHours   = "sent_outside_hours"
	FlagFirstContact   = "first_contact"
	FlagVeryShort      = "very_short"
	FlagVeryLong       = "very_long"
	FlagContainsLinks  = "contains_links"
	FlagContainsPhone  = "contains_phone"
	FlagBotSender      = "bot_sender"
	FlagAnalysisFailed = "analysis_failed"
)

// Entity keys used in Classification.Entities. A key is absent when no
// match was found, never present with an empty list.
const (
	EntityPhones  = "phones"
	EntityEmails  = "emails"
	EntityURLs    = "urls"
	EntityDates   = "dates"
	EntityTimes   = "times"
	EntityAmounts = "amounts"
)

// Classification is the derived analysis of a single message. It is
// stored inline on the message, not as its own entity.
type Classification struct {
	Category          Category            `json:"category"`
	Priority          Priority            `json:"priority"`
	Sentiment         Sentiment           `json:"sentiment"`
	IsSpam            bool                `json:"is_spam"`
	HasUrgentKeywords bool                `json:"has_urgent_keywords"`
	Kind              MessageKind         `json:"kind"`
	Language          string              `json:"language"`
	WordCount         int                 `json:"word_count"`
	Confidence        float64             `json:"confidence"`
	Entities          map[string][]string `json:"entities,omitempty"`
	Flags             []string            `json:"flags,omitempty"`
}

// HasFlag reports whether the classification carries the given flag.
func (c Classification) HasFlag(flag string) bool {
	for _, f := range c.Flags {
		if f == flag {
			return true
		}
	}
	return false
}
