package models

// Priority of a contact, conversation or message.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var priorityRank = map[Priority]int{
	PriorityLow:    0,
	PriorityMedium: 1,
	PriorityHigh:   2,
	PriorityUrgent: 3,
}

// Rank returns the ordering position of the priority, low < medium < high < urgent.
// Unknown values rank below low so they never win an escalation.
func (p Priority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return -1
}

// MaxPriority returns the higher of the two priorities.
func MaxPriority(a, b Priority) Priority {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Category assigned to a contact or conversation.
type Category string

const (
	CategoryPersonal Category = "personal"
	CategoryBusiness Category = "business"
	CategorySupport  Category = "support"
	CategorySales    Category = "sales"
	CategoryInquiry  Category = "inquiry"
	CategorySpam     Category = "spam"
	CategoryUnknown  Category = "unknown"
	CategoryOther    Category = "other"
)

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	StatusActive   ConversationStatus = "active"
	StatusWaiting  ConversationStatus = "waiting"
	StatusResolved ConversationStatus = "resolved"
	StatusArchived ConversationStatus = "archived"
)

// Open reports whether the conversation still accepts inbound messages.
func (s ConversationStatus) Open() bool {
	return s == StatusActive || s == StatusWaiting
}

// MessageType is the media type of a message.
type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeAudio    MessageType = "audio"
	TypeVideo    MessageType = "video"
	TypeDocument MessageType = "document"
	TypeSticker  MessageType = "sticker"
	TypeLocation MessageType = "location"
	TypeContact  MessageType = "contact"
	TypeReaction MessageType = "reaction"
	TypeSystem   MessageType = "system"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
	SenderSystem    Sender = "system"
)

// Sentiment of a classified message.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)
