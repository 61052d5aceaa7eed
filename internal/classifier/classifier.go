package classifier

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/xaenox/triagebot/internal/models"
)

// Metadata is what the classifier knows about a message besides its text.
type Metadata struct {
	SenderName   string
	FirstContact bool
	IsGroup      bool
	SentAt       time.Time
}

// Options tunes a Classifier for a persona. Category keyword overrides
// replace the default list for that category; categories not named keep
// their defaults.
type Options struct {
	CategoryKeywords map[models.Category][]string
}

// Classifier derives a Classification from message text and metadata.
// It is pure and performs no I/O; a single instance is safe for
// concurrent use.
type Classifier struct {
	categories []CategoryRule
	tiers      []priorityTier
}

func New(opts Options) *Classifier {
	rules := defaultCategoryRules()
	for i := range rules {
		if kws, ok := opts.CategoryKeywords[rules[i].Category]; ok {
			rules[i].Keywords = kws
		}
	}
	return &Classifier{
		categories: rules,
		tiers:      defaultPriorityTiers(),
	}
}

var spamPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:lottery|jackpot|sweepstake)\b`),
	regexp.MustCompile(`(?i)\byou(?:'ve| have)? won\b`),
	regexp.MustCompile(`(?i)\b(?:free|claim your) (?:prize|gift|money)\b`),
	regexp.MustCompile(`(?i)guaranteed (?:returns?|profits?|income)`),
	regexp.MustCompile(`(?i)\b(?:act now|limited time offer|click here)\b`),
	regexp.MustCompile(`[!?]{5,}`),
}

var punctClusterPattern = regexp.MustCompile(`[!?]{2,}`)

const (
	businessHourStart = 8
	businessHourEnd   = 20

	veryLongWords  = 100
	veryShortWords = 3
)

// Classify analyzes one message. It never fails: any internal error is
// swallowed and a degraded default result is returned instead.
func (c *Classifier) Classify(text string, meta Metadata) (result models.Classification) {
	defer func() {
		if r := recover(); r != nil {
			result = degradedResult()
		}
	}()
	return c.classify(text, meta)
}

func (c *Classifier) classify(text string, meta Metadata) models.Classification {
	tokens := tokenize(text)
	normalized := " " + strings.Join(tokens, " ") + " "

	urgent := matchesAny(normalized, c.tiers[0].Keywords)

	result := models.Classification{
		Category:          c.scoreCategory(normalized),
		Priority:          c.scorePriority(text, normalized),
		Sentiment:         scoreSentiment(normalized),
		IsSpam:            isSpam(text),
		HasUrgentKeywords: urgent,
		Kind:              detectKind(text, normalized, tokens),
		Language:          detectLanguage(normalized),
		WordCount:         len(tokens),
		Entities:          extractEntities(text),
	}

	result.Confidence = 0.9
	if result.Category == models.CategoryOther {
		result.Confidence = 0.6
	}

	c.applyContext(&result, meta)
	return result
}

// scoreCategory counts whole-word keyword hits per category and picks
// the highest score. Ties go to the first-declared category; zero
// everywhere means "other".
func (c *Classifier) scoreCategory(normalized string) models.Category {
	best := models.CategoryOther
	bestScore := 0
	for _, rule := range c.categories {
		score := 0
		for _, kw := range rule.Keywords {
			score += strings.Count(normalized, " "+kw+" ")
		}
		if score > bestScore {
			best = rule.Category
			bestScore = score
		}
	}
	return best
}

func (c *Classifier) scorePriority(text, normalized string) models.Priority {
	for _, tier := range c.tiers {
		if matchesAny(normalized, tier.Keywords) {
			return tier.Priority
		}
	}
	if strings.Count(text, "!") > 1 || hasShoutedWord(text) {
		return models.PriorityHigh
	}
	return models.PriorityMedium
}

func scoreSentiment(normalized string) models.Sentiment {
	pos := countAny(normalized, positiveKeywords)
	neg := countAny(normalized, negativeKeywords)
	switch {
	case pos > neg:
		return models.SentimentPositive
	case neg > pos:
		return models.SentimentNegative
	default:
		return models.SentimentNeutral
	}
}

func isSpam(text string) bool {
	for _, p := range spamPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	if countURLs(text) > 2 {
		return true
	}
	if len(text) > 20 && uppercaseRatio(text) > 0.5 {
		return true
	}
	return len(punctClusterPattern.FindAllString(text, -1)) > 3
}

func detectLanguage(normalized string) string {
	best := "unknown"
	bestScore := 0
	tie := false
	for _, lang := range []string{"en", "es", "pt"} {
		score := countAny(normalized, languageIndicators[lang])
		switch {
		case score > bestScore:
			best, bestScore, tie = lang, score, false
		case score == bestScore && score > 0:
			tie = true
		}
	}
	if tie || bestScore == 0 {
		return "unknown"
	}
	return best
}

func detectKind(text, normalized string, tokens []string) models.MessageKind {
	if strings.Contains(text, "?") {
		return models.KindQuestion
	}
	if len(tokens) > 0 {
		for _, starter := range interrogativeStarters {
			if tokens[0] == starter {
				return models.KindQuestion
			}
		}
	}
	switch {
	case matchesAny(normalized, greetingKeywords):
		return models.KindGreeting
	case matchesAny(normalized, gratitudeKeywords):
		return models.KindGratitude
	case matchesAny(normalized, confirmationKeywords):
		return models.KindConfirmation
	case matchesAny(normalized, requestKeywords):
		return models.KindRequest
	default:
		return models.KindStatement
	}
}

// applyContext appends contextual flags and adjusts confidence based on
// metadata the text alone cannot provide.
func (c *Classifier) applyContext(result *models.Classification, meta Metadata) {
	offHours := false
	if !meta.SentAt.IsZero() {
		h := meta.SentAt.Hour()
		if h < businessHourStart || h >= businessHourEnd {
			offHours = true
			result.Flags = append(result.Flags, models.FlagOutsideHours)
		}
	}
	if meta.FirstContact {
		result.Flags = append(result.Flags, models.FlagFirstContact)
	}
	if result.WordCount > 0 && result.WordCount < veryShortWords {
		result.Flags = append(result.Flags, models.FlagVeryShort)
	}
	if result.WordCount > veryLongWords {
		result.Flags = append(result.Flags, models.FlagVeryLong)
	}
	if _, ok := result.Entities[models.EntityURLs]; ok {
		result.Flags = append(result.Flags, models.FlagContainsLinks)
	}
	if _, ok := result.Entities[models.EntityPhones]; ok {
		result.Flags = append(result.Flags, models.FlagContainsPhone)
	}

	botLike := looksLikeBot(meta.SenderName)
	if botLike {
		result.Flags = append(result.Flags, models.FlagBotSender)
		result.IsSpam = true
	}

	if botLike || (offHours && result.HasUrgentKeywords) {
		result.Confidence *= 0.5
	}
}

func looksLikeBot(name string) bool {
	if name == "" {
		return false
	}
	lower := strings.ToLower(name)
	for _, marker := range botNameMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func degradedResult() models.Classification {
	return models.Classification{
		Category:   models.CategoryOther,
		Priority:   models.PriorityMedium,
		Sentiment:  models.SentimentNeutral,
		Kind:       models.KindStatement,
		Language:   "unknown",
		Confidence: 0.1,
		Flags:      []string{models.FlagAnalysisFailed},
	}
}

// tokenize splits text into lowercased words on Unicode boundaries.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})
}

func matchesAny(normalized string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(normalized, " "+kw+" ") {
			return true
		}
	}
	return false
}

func countAny(normalized string, keywords []string) int {
	total := 0
	for _, kw := range keywords {
		total += strings.Count(normalized, " "+kw+" ")
	}
	return total
}

func uppercaseRatio(text string) float64 {
	letters, upper := 0, 0
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(upper) / float64(letters)
}

func hasShoutedWord(text string) bool {
	for _, word := range strings.Fields(text) {
		letters := 0
		allUpper := true
		for _, r := range word {
			if unicode.IsLetter(r) {
				letters++
				if !unicode.IsUpper(r) {
					allUpper = false
					break
				}
			}
		}
		if allUpper && letters > 3 {
			return true
		}
	}
	return false
}
