package usecase

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"wa-relay/internal/domain"
)

// MaxReplyRunes is the WhatsApp text body limit.
const MaxReplyRunes = 4096

// maxCitationRunes caps the appended citation so the answer keeps most of
// the reply budget. Snippets with longer citations are treated as uncitable.
const maxCitationRunes = MaxReplyRunes / 4

const ellipsis = "…"

// trailingCitation matches a citation shaped like "Nome, nº 12, assunto,
// 01/02/2023." that ends a line, either on its own or after a sentence.
// Group 1 is the citation itself.
var trailingCitation = regexp.MustCompile(`(?i)(?:^|[.!?]\s+)([^.!?,\n]+,\s*n(?:[º°]|o\.)\s*[^,\n]+,[^\n]+?,\s*\d{2}/\d{2}/\d{4}\.?)\s*$`)

// firstCitation returns the citation of the highest ranked citable snippet.
func firstCitation(snippets []domain.Snippet) (string, bool) {
	for _, s := range snippets {
		c, ok := s.Citation()
		if ok && utf8.RuneCountInString(c) <= maxCitationRunes {
			return c, true
		}
	}
	return "", false
}

// stripCitations removes citations the model wrote itself. Text before a
// citation on the same line is kept; lines left empty are dropped.
func stripCitations(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if loc := trailingCitation.FindStringSubmatchIndex(l); loc != nil {
			l = strings.TrimRightFunc(l[:loc[2]], unicode.IsSpace)
			if strings.TrimSpace(l) == "" {
				continue
			}
		}
		kept = append(kept, l)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// finalize removes model citations, fits body into the limit and appends
// the canonical citation as the last line.
func finalize(body string, snippets []domain.Snippet) string {
	citation, ok := firstCitation(snippets)
	if !ok {
		return truncate(strings.TrimSpace(body), MaxReplyRunes)
	}
	body = stripCitations(strings.ReplaceAll(body, citation, ""))
	budget := MaxReplyRunes - utf8.RuneCountInString(citation) - 2
	body = truncate(body, budget)
	if body == "" {
		return citation
	}
	return body + "\n\n" + citation
}

// truncate cuts s to at most limit runes. It prefers the last paragraph or
// sentence break in the second half of the window, else hard-cuts with an
// ellipsis.
func truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	window := r[:limit]
	floor := limit / 2

	if i := lastIndex(window, floor, func(j int) bool {
		return window[j] == '\n' && j > 0 && window[j-1] == '\n'
	}); i >= 0 {
		return strings.TrimRightFunc(string(window[:i]), unicode.IsSpace)
	}
	if i := lastIndex(window, floor, func(j int) bool {
		return isSentenceEnd(window[j]) && (j+1 == len(window) || unicode.IsSpace(window[j+1]))
	}); i >= 0 {
		return string(window[:i+1])
	}

	cut := limit - utf8.RuneCountInString(ellipsis)
	if cut < 0 {
		cut = 0
	}
	return strings.TrimRightFunc(string(r[:cut]), unicode.IsSpace) + ellipsis
}

func lastIndex(window []rune, floor int, match func(int) bool) int {
	for j := len(window) - 1; j >= floor; j-- {
		if match(j) {
			return j
		}
	}
	return -1
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
