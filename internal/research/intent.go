package research

import (
	"regexp"
	"strings"

	"github.com/iamfarzad/FBC-masterV5--sub003/internal/dedup"
)

var (
	aboutMePattern = regexp.MustCompile(`(?i)\b(tell me about|what do you know about|who am i|research)\s+(me|myself|my company|my business|us|our company)\b|\bwho am i\b`)

	searchPattern = regexp.MustCompile(`(?i)\b(search|find|look up|research|latest|news|what is|who is)\b`)

	urlPattern = regexp.MustCompile("(?i)\\bhttps?://[^\\s<>\"'`]+")
)

// IsAboutMe reports whether text asks about the user or their company.
func IsAboutMe(text string) bool {
	return aboutMePattern.MatchString(text)
}

// IsSearchIntent reports whether text reads like a request to look
// something up.
func IsSearchIntent(text string) bool {
	return searchPattern.MatchString(text)
}

// ExtractURLs returns the distinct http(s) URLs in text in order of
// appearance, with trailing punctuation picked up from prose removed.
func ExtractURLs(text string) []string {
	matches := urlPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	urls := make([]string, 0, len(matches))
	for _, m := range matches {
		u := strings.TrimRight(m, dedup.TrailingPunctuation)
		if len(u) <= len("https://") || seen[u] {
			continue
		}
		seen[u] = true
		urls = append(urls, u)
	}
	return urls
}

// chooseText prefers an active selection longer than three characters.
func chooseText(text, selection string) string {
	if s := strings.TrimSpace(selection); len([]rune(s)) > 3 {
		return s
	}
	return strings.TrimSpace(text)
}
