package triage

import "strings"

// specialistKeywords are per-category signal words used for the deterministic
// confidence component. Each hit adds a fixed increment; totals are then
// normalized across categories.
var specialistKeywords = map[Specialist][]string{
	Ophthalmologist: {
		"infection", "disease", "serious", "medical", "treatment", "diagnosis",
		"severe", "complications", "medication", "urgent", "red eye", "discharge",
	},
	Optometrist: {
		"blurry", "vision", "glasses", "contacts", "prescription", "reading",
		"distance", "eye strain", "headache", "focus", "clarity",
	},
	Optician: {
		"fitting", "adjustment", "frame", "lens", "broken", "repair",
		"comfort", "size", "style", "dispense",
	},
	OcularSurgeon: {
		"surgery", "surgical", "operation", "cataract", "retinal", "tumor",
		"emergency", "trauma", "injury", "severe damage",
	},
}

// fallbackEntry maps a keyword to a category for the finalizer's backstop.
type fallbackEntry struct {
	keyword    string
	specialist Specialist
}

// fallbackTable is scanned in order; the first keyword found in the
// conversation text decides the category. Surgical and dispensing terms come
// first because they are the most specific; Ophthalmologist is the catch-all
// default when nothing matches.
var fallbackTable = []fallbackEntry{
	{"surgery", OcularSurgeon},
	{"cataract", OcularSurgeon},
	{"retinal", OcularSurgeon},
	{"detachment", OcularSurgeon},
	{"trauma", OcularSurgeon},
	{"injury", OcularSurgeon},
	{"frame", Optician},
	{"fitting", Optician},
	{"broken", Optician},
	{"repair", Optician},
	{"glasses", Optometrist},
	{"contacts", Optometrist},
	{"prescription", Optometrist},
	{"blurry", Optometrist},
	{"vision", Optometrist},
	{"eye strain", Optometrist},
	{"infection", Ophthalmologist},
	{"discharge", Ophthalmologist},
	{"red eye", Ophthalmologist},
	{"pain", Ophthalmologist},
}

const fallbackDefault = Ophthalmologist

// qualityIndicators are detail words that mark diagnostically useful answers.
var qualityIndicators = []string{
	"severe", "mild", "moderate", "sudden", "gradual", "days", "weeks", "months",
	"pain", "burning", "itching", "discharge", "swelling", "redness",
	"vision", "blurry", "clear", "double", "loss", "improvement",
	"medication", "surgery", "injury", "trauma", "family history",
}

// vagueResponses mark answers that carry no diagnostic signal.
var vagueResponses = []string{"other", "maybe", "not sure", "don't know", "unclear"}

const keywordHitWeight = 0.15

// keywordScores computes the keyword-based per-category distribution for the
// given text. Scores are normalized over categories; an empty match yields an
// even spread.
func keywordScores(text string) map[Specialist]float64 {
	lower := strings.ToLower(text)
	scores := make(map[Specialist]float64, len(specialistKeywords))

	total := 0.0
	for _, sp := range Specialists() {
		score := 0.0
		for _, kw := range specialistKeywords[sp] {
			if strings.Contains(lower, kw) {
				score += keywordHitWeight
			}
		}
		if score > 1 {
			score = 1
		}
		scores[sp] = score
		total += score
	}

	if total == 0 {
		for _, sp := range Specialists() {
			scores[sp] = 1.0 / float64(len(specialistKeywords))
		}
		return scores
	}
	for sp, v := range scores {
		scores[sp] = v / total
	}
	return scores
}

// matchFallbackCategory scans the fallback table against the conversation
// text and returns the matched category plus the keywords that matched it.
func matchFallbackCategory(text string) (Specialist, []string) {
	lower := strings.ToLower(text)
	var matched Specialist
	var hits []string
	for _, entry := range fallbackTable {
		if strings.Contains(lower, entry.keyword) {
			if matched == "" {
				matched = entry.specialist
			}
			if entry.specialist == matched {
				hits = append(hits, entry.keyword)
			}
		}
	}
	if matched == "" {
		return fallbackDefault, nil
	}
	return matched, hits
}

// answerQuality scores the diagnostic value of recent answers in [0, 0.1].
// Detailed, specific answers push it up; vague ones pull it down.
func answerQuality(turns []Turn) float64 {
	start := 0
	if len(turns) > 3 {
		start = len(turns) - 3
	}
	quality := 0.0
	for _, turn := range turns[start:] {
		answer := strings.TrimSpace(turn.Answer)
		if answer == "" {
			continue
		}
		lower := strings.ToLower(answer)
		if len(strings.Fields(answer)) > 3 {
			quality += 0.02
		}
		for _, indicator := range qualityIndicators {
			if strings.Contains(lower, indicator) {
				quality += 0.01
			}
		}
		for _, vague := range vagueResponses {
			if strings.Contains(lower, vague) {
				quality -= 0.01
			}
		}
	}
	if quality < 0 {
		return 0
	}
	if quality > 0.1 {
		return 0.1
	}
	return quality
}
