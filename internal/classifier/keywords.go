package classifier

import "github.com/xaenox/triagebot/internal/models"

// CategoryRule scores one category by whole-word keyword matches.
// Declaration order breaks ties: the earlier rule wins.
type CategoryRule struct {
	Category models.Category
	Keywords []string
}

func defaultCategoryRules() []CategoryRule {
	return []CategoryRule{
		{models.CategorySupport, []string{
			"help", "problem", "issue", "error", "broken", "down", "bug",
			"crash", "failing", "failed", "not working", "server", "outage",
			"fix", "support",
		}},
		{models.CategorySales, []string{
			"price", "quote", "buy", "purchase", "order", "discount",
			"invoice", "payment", "cost", "plan", "subscription", "upgrade",
		}},
		{models.CategoryBusiness, []string{
			"meeting", "project", "deadline", "contract", "proposal",
			"report", "schedule", "agenda", "client", "partnership",
		}},
		{models.CategoryInquiry, []string{
			"question", "wondering", "how", "when", "where", "info",
			"information", "details", "available", "availability",
		}},
		{models.CategoryPersonal, []string{
			"family", "friend", "birthday", "dinner", "lunch", "weekend",
			"holiday", "party", "home",
		}},
	}
}

// Priority tiers are scanned in order; the first tier with a keyword
// match wins. The urgent tier doubles as the urgent-keyword list.
type priorityTier struct {
	Priority models.Priority
	Keywords []string
}

func defaultPriorityTiers() []priorityTier {
	return []priorityTier{
		{models.PriorityUrgent, []string{
			"urgent", "emergency", "asap", "immediately", "critical",
			"right now", "production down", "server down",
		}},
		{models.PriorityHigh, []string{
			"important", "priority", "soon", "today", "deadline", "quickly",
		}},
		{models.PriorityMedium, []string{
			"tomorrow", "this week", "when you can", "update",
		}},
		{models.PriorityLow, []string{
			"whenever", "no rush", "no hurry", "eventually", "someday",
		}},
	}
}

var positiveKeywords = []string{
	"thanks", "thank", "great", "good", "awesome", "perfect", "excellent",
	"love", "happy", "nice", "wonderful", "appreciate",
}

var negativeKeywords = []string{
	"bad", "terrible", "awful", "angry", "hate", "disappointed", "worst",
	"annoyed", "frustrated", "unacceptable", "complaint", "refund",
}

// Language indicators: common function words unlikely to collide
// across the supported languages.
var languageIndicators = map[string][]string{
	"en": {"the", "and", "you", "that", "this", "with", "have", "what", "please"},
	"es": {"el", "la", "los", "las", "que", "por", "para", "gracias", "hola", "usted"},
	"pt": {"o", "os", "uma", "que", "por", "para", "obrigado", "obrigada", "você", "bom"},
}

var greetingKeywords = []string{
	"hello", "hi", "hey", "good morning", "good afternoon", "good evening",
	"hola", "olá", "oi", "bom dia", "boa tarde", "boa noite",
}

var gratitudeKeywords = []string{
	"thanks", "thank you", "thx", "gracias", "obrigado", "obrigada", "valeu",
}

var confirmationKeywords = []string{
	"yes", "ok", "okay", "sure", "confirmed", "confirm", "deal", "agreed",
	"sim", "sí", "claro", "certo",
}

var requestKeywords = []string{
	"please", "can you", "could you", "would you", "i need", "send me",
	"por favor", "pode", "preciso",
}

var interrogativeStarters = []string{
	"who", "what", "when", "where", "why", "how", "which", "can", "could",
	"would", "should", "is", "are", "do", "does", "did",
}

// Sender display names that indicate an automated counterpart.
var botNameMarkers = []string{"bot", "auto", "noreply", "no-reply", "notification", "system"}
