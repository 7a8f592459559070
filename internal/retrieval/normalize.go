package retrieval

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"wa-relay/internal/domain"
)

const defaultSubject = "assunto não informado"

var (
	digitsPattern = regexp.MustCompile(`\d+`)

	dateLayouts = []string{
		domain.CitationDateLayout,
		"2/1/2006",
		"2006-01-02",
		time.RFC3339,
		"02-01-2006",
		"02.01.2006",
	}
)

// normalizeSnippets trims passages, drops empty ones and duplicates, fills in
// citation metadata that can be derived and keeps at most k snippets in the
// backend's order.
func normalizeSnippets(in []domain.Snippet, k int) []domain.Snippet {
	seen := make(map[string]struct{}, len(in))
	out := make([]domain.Snippet, 0, len(in))
	for _, s := range in {
		s.Text = strings.TrimSpace(s.Text)
		if s.Text == "" {
			continue
		}
		s.DocName = strings.TrimSpace(s.DocName)
		s.DocNumber = strings.TrimSpace(s.DocNumber)
		if s.DocNumber == "" {
			s.DocNumber = numberFromName(s.DocName)
		}
		s.Subject = strings.TrimSpace(s.Subject)
		if s.Subject == "" {
			s.Subject = defaultSubject
		}
		s.Date = normalizeDate(s.Date)

		s.Article = strings.TrimSpace(s.Article)

		if _, dup := seen[dedupeKey(s)]; dup {
			continue
		}
		seen[dedupeKey(s)] = struct{}{}
		out = append(out, s)
		if k > 0 && len(out) == k {
			break
		}
	}
	return out
}

// dedupeKey identifies a passage by document and article. Backends that do
// not report the article fall back to the passage text.
func dedupeKey(s domain.Snippet) string {
	part := s.Article
	if part == "" {
		part = "\x01" + s.Text
	}
	return strings.Join([]string{s.DocID, s.DocNumber, strings.ToLower(s.DocName), part}, "\x00")
}

// numberFromName extracts the first run of digits, e.g. "Portaria 45" -> "45".
func numberFromName(name string) string {
	return digitsPattern.FindString(name)
}

// normalizeDate rewrites known date layouts as DD/MM/YYYY. Unparseable values
// are returned trimmed and unchanged.
func normalizeDate(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format(domain.CitationDateLayout)
		}
	}
	return raw
}

// normalizeSpaces maps every Unicode space separator to ' ' and collapses runs.
func normalizeSpaces(q string) string {
	return strings.Join(strings.FieldsFunc(q, func(r rune) bool {
		return unicode.Is(unicode.Zs, r) || unicode.IsSpace(r)
	}), " ")
}

// foldASCII strips diacritics: "férias" -> "ferias".
func foldASCII(q string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, q)
	if err != nil {
		return q
	}
	return out
}
