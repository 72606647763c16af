package tts

import "regexp"

func normalizeTextForTTS(text string) string {
	// remove markdown formatting
	text = removeMarkdown(text)

	// remove emojis
	text = removeEmojis(text)

	// replace multiple spaces with a single space
	text = replaceMultipleSpaces(text)

	// trim leading and trailing whitespace
	text = trimWhitespace(text)

	return text
}

func removeMarkdown(text string) string {
	text = headerRegex.ReplaceAllString(text, "")
	text = bulletRegex.ReplaceAllString(text, "")
	text = linkRegex.ReplaceAllString(text, "$1")
	for _, marker := range inlineMarkers {
		text = marker.ReplaceAllString(text, "")
	}
	return text
}

func removeEmojis(text string) string {
	return removeEmojiRegex.ReplaceAllString(text, "")
}

func replaceMultipleSpaces(text string) string {
	return multipleSpacesRegex.ReplaceAllString(text, " ")
}

func trimWhitespace(text string) string {
	return trimWhitespaceRegex.ReplaceAllString(text, "")
}

// truncateRunes cuts text to at most n runes. n <= 0 disables the limit.
func truncateRunes(text string, n int) string {
	if n <= 0 {
		return text
	}
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n])
}

var (
	headerRegex         = regexp.MustCompile(`(?m)^\s{0,3}#{1,6}\s+`)
	bulletRegex         = regexp.MustCompile(`(?m)^\s*[-*+]\s+`)
	linkRegex           = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	removeEmojiRegex    = regexp.MustCompile(`[^\p{L}\p{N}\p{P}\p{Z}\p{M}\s]`)
	multipleSpacesRegex = regexp.MustCompile(`\s+`)
	trimWhitespaceRegex = regexp.MustCompile(`^\s+|\s+$`)
	inlineMarkers       = []*regexp.Regexp{
		regexp.MustCompile(`\*\*`), // bold
		regexp.MustCompile(`\*`),   // italic
		regexp.MustCompile(`__`),   // underline
		regexp.MustCompile(`~~`),   // strikethrough
		regexp.MustCompile("`"),    // inline code
	}
)
