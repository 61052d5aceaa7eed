package intent

import "strings"

// Fallback confidence never exceeds this: callers can tell a keyword
// guess from a backend extraction.
const fallbackConfidenceCap = 0.7

var queryKeywords = []string{
	"summary", "report", "status", "overview", "show me", "what happened",
	"messages", "recap",
}

var helpKeywords = []string{
	"help", "what can you do", "how do i", "commands", "instructions",
}

// fallbackParse is the deterministic keyword path used when the
// inference backend is disabled or errored.
func fallbackParse(text string) Result {
	lower := strings.ToLower(text)

	for _, kw := range helpKeywords {
		if strings.Contains(lower, kw) {
			return Result{
				Intent:     IntentHelp,
				Confidence: fallbackConfidenceCap,
			}
		}
	}

	for _, kw := range queryKeywords {
		if strings.Contains(lower, kw) {
			return Result{
				Intent:     IntentMessageQuery,
				Entities:   Entities{Timeframe: inferTimeframe(lower)},
				Confidence: 0.65,
			}
		}
	}

	return Result{
		Intent:     IntentConversation,
		Confidence: 0.5,
	}
}

// ParseTimeframe derives a timeframe from free text with the same
// substring rules as the fallback path. Deterministic; used where a
// full routing pass is unnecessary.
func ParseTimeframe(text string) *Timeframe {
	return inferTimeframe(strings.ToLower(text))
}

// inferTimeframe maps obvious substrings to a timeframe, defaulting to
// the trailing 24 hours. "Today" and "yesterday" keep their distinct
// relative values.
func inferTimeframe(lower string) *Timeframe {
	switch {
	case strings.Contains(lower, "today"):
		return &Timeframe{Value: 0, Unit: UnitDays, Relative: RelativeToday}
	case strings.Contains(lower, "yesterday"):
		return &Timeframe{Value: 1, Unit: UnitDays, Relative: RelativeYesterday}
	case strings.Contains(lower, "week"):
		return &Timeframe{Value: 1, Unit: UnitWeeks, Relative: RelativePast}
	case strings.Contains(lower, "hour"):
		return &Timeframe{Value: 1, Unit: UnitHours, Relative: RelativePast}
	default:
		return &Timeframe{Value: 24, Unit: UnitHours, Relative: RelativePast}
	}
}
