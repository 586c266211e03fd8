package callout

import "strings"

// interrogativeLeads are words that open a question clause even without a
// terminal question mark, which batch backends frequently drop.
var interrogativeLeads = map[string]struct{}{
	"who": {}, "what": {}, "when": {}, "where": {}, "why": {}, "how": {},
	"which": {}, "whose": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "am": {},
	"do": {}, "does": {}, "did": {},
	"can": {}, "could": {}, "would": {}, "will": {}, "should": {}, "shall": {},
	"have": {}, "has": {},
}

// IsQuestion reports whether a finalized utterance reads as a question.
func IsQuestion(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	if strings.HasSuffix(text, "?") {
		return true
	}

	// Check the lead word of the last clause: "right, so how does it work".
	clause := text
	for _, sep := range []string{".", ",", ";", "-"} {
		if idx := strings.LastIndex(clause, sep); idx >= 0 {
			clause = clause[idx+1:]
		}
	}
	fields := strings.Fields(strings.ToLower(clause))
	if len(fields) < 2 {
		return false
	}
	_, ok := interrogativeLeads[strings.Trim(fields[0], ",.!:;'\"")]
	return ok
}
