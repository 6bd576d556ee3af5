package tools

import (
	"regexp"
	"strings"
)

// MarkdownToWhatsApp converts standard markdown formatting to WhatsApp's
// text formatting. Code fences are left untouched.
func MarkdownToWhatsApp(text string) string {
	parts := strings.Split(text, "```")
	for i := 0; i < len(parts); i += 2 {
		// Even-indexed parts are outside code fences.
		parts[i] = convertProse(parts[i])
	}
	return strings.Join(parts, "```")
}

var (
	// Links: [text](url) → text (url)
	reLink = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	// Bold: **text** or __text__ → *text*
	reBold      = regexp.MustCompile(`\*\*(.+?)\*\*`)
	reBoldUnder = regexp.MustCompile(`__(.+?)__`)
	// Strikethrough: ~~text~~ → ~text~
	reStrike = regexp.MustCompile(`~~(.+?)~~`)
	// Headings: # Heading → *Heading*
	reHeading = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)
	// Bullets: "- item" or "* item" → "• item"
	reBullet = regexp.MustCompile(`(?m)^(\s*)[-*]\s+`)
)

func convertProse(s string) string {
	s = reLink.ReplaceAllString(s, "$1 ($2)")
	s = reBullet.ReplaceAllString(s, "$1• ")
	s = reBold.ReplaceAllString(s, "*$1*")
	s = reBoldUnder.ReplaceAllString(s, "*$1*")
	s = reStrike.ReplaceAllString(s, "~$1~")
	s = reHeading.ReplaceAllString(s, "*$1*")
	return s
}

// SplitMessage breaks text into chunks of at most limit runes, preferring
// paragraph and then line boundaries.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 || len([]rune(text)) <= limit {
		return []string{text}
	}

	var chunks []string
	rest := []rune(text)
	for len(rest) > limit {
		window := string(rest[:limit])
		cut := strings.LastIndex(window, "\n\n")
		if cut <= 0 {
			cut = strings.LastIndex(window, "\n")
		}
		if cut <= 0 {
			cut = strings.LastIndex(window, " ")
		}
		var n int
		if cut <= 0 {
			n = limit
		} else {
			n = len([]rune(window[:cut]))
		}
		chunks = append(chunks, strings.TrimRight(string(rest[:n]), " \n"))
		rest = []rune(strings.TrimLeft(string(rest[n:]), " \n"))
	}
	if len(rest) > 0 {
		chunks = append(chunks, string(rest))
	}
	return chunks
}
