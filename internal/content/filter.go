// Package content implements the quality filter applied to item text at
// import time. Items whose cleaned text is too short to judge are dropped.
package content

import (
	"regexp"
	"strings"
)

// Items with fewer cleaned words than this carry too little signal to label.
const minWords = 6

var (
	urlPattern     = regexp.MustCompile(`http\S+`)
	mentionPattern = regexp.MustCompile(`@\S+`)
	emojiPattern   = regexp.MustCompile(`[\x{1F300}-\x{1FAFF}\x{2702}-\x{27B0}\x{24C2}-\x{1F251}]`)
	// Keep Latin and Arabic letters, digits and basic punctuation.
	keepPattern  = regexp.MustCompile(`[^a-zA-Z\x{0600}-\x{06FF}0-9\s,.?!'/"#]`)
	spacePattern = regexp.MustCompile(`\s+`)
)

// Clean normalizes raw item text. It returns the empty string when the
// cleaned text does not pass the quality threshold.
func Clean(text string) string {
	text = urlPattern.ReplaceAllString(text, "")
	text = mentionPattern.ReplaceAllString(text, "")
	text = emojiPattern.ReplaceAllString(text, "")
	text = keepPattern.ReplaceAllString(text, "")
	text = spacePattern.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)

	if len(strings.Fields(text)) < minWords {
		return ""
	}
	return text
}

// Acceptable reports whether raw text survives the quality filter.
func Acceptable(text string) bool {
	return Clean(text) != ""
}
