package scrape

import (
	"regexp"
	"strings"
)

// Label is a demographic bucket inferred from profile text.
type Label string

const (
	LabelF       Label = "f"
	LabelM       Label = "m"
	LabelUnknown Label = "unknown"
)

var (
	namePartRe = regexp.MustCompile(`[A-Za-z]{2,20}`)
	splitRe    = regexp.MustCompile(`[_.\-\s\d]+`)

	mKeywords = []string{"king", "prince", "sir", "mr", "lord", "duke"}
	fKeywords = []string{"queen", "princess", "lady", "mrs", "ms", "miss", "duchess"}

	// Generic profile filler that never indicates a label.
	stopWords = map[string]bool{
		"the": true, "and": true, "official": true, "real": true,
		"true": true, "page": true, "account": true, "profile": true,
		"fitness": true, "gym": true, "workout": true, "life": true,
		"love": true, "style": true, "blog": true, "shop": true,
	}
)

// Classify infers a label from a profile's username and full name using
// keyword heuristics. Returns LabelUnknown when nothing matches; callers
// filtering on a label should treat unknown as a non-match.
func Classify(username, fullName string) Label {
	for _, text := range []string{fullName, username} {
		if label := keywordLabel(text); label != LabelUnknown {
			return label
		}
	}
	return LabelUnknown
}

// MatchesLabel reports whether a record passes the given target label
// filter. An empty target accepts everything.
func MatchesLabel(r Record, target string) bool {
	if target == "" {
		return true
	}
	return Classify(r.Username, r.FullName) == Label(target)
}

// FilterByLabel keeps only records matching the target label. With an empty
// target the input is returned unchanged.
func FilterByLabel(records []Record, target string) []Record {
	if target == "" {
		return records
	}
	filtered := make([]Record, 0, len(records))
	for _, r := range records {
		if MatchesLabel(r, target) {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

func keywordLabel(text string) Label {
	if text == "" {
		return LabelUnknown
	}
	for _, word := range extractWords(text) {
		for _, kw := range mKeywords {
			if word == kw {
				return LabelM
			}
		}
		for _, kw := range fKeywords {
			if word == kw {
				return LabelF
			}
		}
	}
	return LabelUnknown
}

func extractWords(text string) []string {
	var words []string
	for _, part := range splitRe.Split(text, -1) {
		for _, match := range namePartRe.FindAllString(part, -1) {
			word := strings.ToLower(match)
			if !stopWords[word] {
				words = append(words, word)
			}
		}
	}
	return words
}
