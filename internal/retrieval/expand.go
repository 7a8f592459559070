package retrieval

import (
	"regexp"
	"strings"
)

const maxExpansionsPerTerm = 2

// synonym links an acronym with its long forms. Matching either side adds the
// other side's phrases to the query.
type synonym struct {
	acronym  *regexp.Regexp
	longForm *regexp.Regexp
	fromAcro []string
	fromLong []string
}

var synonyms = []synonym{
	{
		acronym:  regexp.MustCompile(`(?i)\bCPP\b`),
		longForm: regexp.MustCompile(`(?i)Comissão\s+de\s+Promoção\s+de\s+Praças?`),
		fromAcro: []string{"Comissão de Promoção de Praças", "Comissão de Promoção de Praça"},
		fromLong: []string{"CPP"},
	},
	{
		acronym:  regexp.MustCompile(`(?i)\bCPO\b`),
		longForm: regexp.MustCompile(`(?i)Comissão\s+de\s+Promoção\s+de\s+Oficia(l|is)`),
		fromAcro: []string{"Comissão de Promoção de Oficiais"},
		fromLong: []string{"CPO"},
	},
	{
		acronym:  regexp.MustCompile(`(?i)\bBOU\b`),
		longForm: regexp.MustCompile(`(?i)Boletim\s+de\s+Ocorrência\s+Unificado`),
		fromAcro: []string{"Boletim de Ocorrência Unificado"},
		fromLong: []string{"BOU"},
	},
	{
		acronym:  regexp.MustCompile(`(?i)\bTCIP\b`),
		longForm: regexp.MustCompile(`(?i)Termo\s+Circunstanciado(\s+de\s+Infração\s+Penal)?`),
		fromAcro: []string{"Termo Circunstanciado de Infração Penal"},
		fromLong: []string{"TCIP"},
	},
	{
		acronym:  regexp.MustCompile(`(?i)\bCICCM\b`),
		longForm: regexp.MustCompile(`(?i)Centro\s+Integrado\s+de\s+Comando\s+e\s+Controle\s+Móvel`),
		fromAcro: []string{"Centro Integrado de Comando e Controle Móvel"},
		fromLong: []string{"CICCM"},
	},
}

// ExpandQuery appends quoted synonyms for known acronyms and long forms:
// "prazo TCIP" -> `prazo TCIP "Termo Circunstanciado de Infração Penal"`.
func ExpandQuery(query string) string {
	q := strings.TrimSpace(query)
	if q == "" {
		return q
	}

	var extras []string
	for _, s := range synonyms {
		if s.acronym.MatchString(q) {
			extras = append(extras, limit(s.fromAcro, maxExpansionsPerTerm)...)
		}
		if s.longForm.MatchString(q) {
			extras = append(extras, limit(s.fromLong, maxExpansionsPerTerm)...)
		}
	}
	extras = dedupFold(extras)
	if len(extras) == 0 {
		return q
	}

	var b strings.Builder
	b.WriteString(q)
	for _, e := range extras {
		b.WriteString(` "`)
		b.WriteString(e)
		b.WriteString(`"`)
	}
	return b.String()
}

func limit(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}

func dedupFold(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		key := strings.ToLower(it)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, it)
	}
	return out
}
