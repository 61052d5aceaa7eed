package classifier

import (
	"regexp"

	"github.com/xaenox/triagebot/internal/models"
)

var (
	phonePattern  = regexp.MustCompile(`\+?\d[\d\s().-]{6,}\d`)
	emailPattern  = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	urlPattern    = regexp.MustCompile(`(?i)\b(?:https?://|www\.)\S+`)
	datePattern   = regexp.MustCompile(`(?i)\b(?:\d{1,2}[/-]\d{1,2}(?:[/-]\d{2,4})?|\d{4}-\d{2}-\d{2}|(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{1,2}(?:st|nd|rd|th)?|(?:today|tomorrow|yesterday|tonight))\b`)
	timePattern   = regexp.MustCompile(`(?i)\b\d{1,2}:\d{2}(?::\d{2})?\s*(?:am|pm|h)?\b|\b\d{1,2}\s*(?:am|pm)\b`)
	amountPattern = regexp.MustCompile(`(?i)(?:[$€£]|R\$)\s?\d+(?:[.,]\d+)*|\b\d+(?:[.,]\d{2})?\s?(?:dollars|bucks|usd|eur|reais)\b`)
)

// extractEntities pulls structured tokens out of free text. Keys with
// no matches are omitted entirely.
func extractEntities(text string) map[string][]string {
	entities := make(map[string][]string)

	add := func(key string, matches []string) {
		if len(matches) > 0 {
			entities[key] = matches
		}
	}

	// URLs are stripped before phone extraction so digits inside links
	// are not mistaken for phone numbers.
	withoutURLs := urlPattern.ReplaceAllString(text, " ")

	add(models.EntityURLs, urlPattern.FindAllString(text, -1))
	add(models.EntityEmails, emailPattern.FindAllString(withoutURLs, -1))
	add(models.EntityPhones, phonePattern.FindAllString(withoutURLs, -1))
	add(models.EntityDates, datePattern.FindAllString(text, -1))
	add(models.EntityTimes, timePattern.FindAllString(text, -1))
	add(models.EntityAmounts, amountPattern.FindAllString(text, -1))

	if len(entities) == 0 {
		return nil
	}
	return entities
}

func countURLs(text string) int {
	return len(urlPattern.FindAllString(text, -1))
}
