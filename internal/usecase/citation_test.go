package usecase

import (
	"regexp"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"wa-relay/internal/domain"
)

var canonicalCitation = regexp.MustCompile(`^.+, nº .+, .+, (\d{2}/\d{2}/\d{4})\.$`)

func feriasSnippet() domain.Snippet {
	return domain.Snippet{
		DocID:     "doc-45",
		DocName:   "Portaria 45",
		DocNumber: "45",
		Subject:   "férias",
		Date:      "10/03/2023",
		Text:      "Fica estabelecido o calendário de férias de 2023.",
	}
}

func lastLine(s string) string {
	lines := strings.Split(s, "\n")
	return lines[len(lines)-1]
}

func TestFinalize_AppendsCanonicalCitation(t *testing.T) {
	out := finalize("As férias de 2023 seguem o calendário da Portaria 45.", []domain.Snippet{feriasSnippet()})
	require.Equal(t, "Portaria 45, nº 45, férias, 10/03/2023.", lastLine(out))

	m := canonicalCitation.FindStringSubmatch(lastLine(out))
	require.NotNil(t, m)
	_, err := time.Parse(domain.CitationDateLayout, m[1])
	require.NoError(t, err)
}

func TestFinalize_ReplacesModelCitation(t *testing.T) {
	raw := "As férias seguem o calendário.\nPortaria 45, nº 45, ferias, 2023-03-10.\nPortaria 45, Nº 45, Férias, 10/03/2023."
	out := finalize(raw, []domain.Snippet{feriasSnippet()})
	require.Equal(t, 1, strings.Count(out, "10/03/2023."))
	require.Equal(t, "Portaria 45, nº 45, férias, 10/03/2023.", lastLine(out))
}

func TestFinalize_KeepsAnswerOnCitationLine(t *testing.T) {
	cases := map[string]string{
		"canonical": "O período de férias é de 30 dias. Portaria 45, nº 45, férias, 10/03/2023.",
		"variant":   "O período de férias é de 30 dias! Portaria 45, Nº 45, Férias, 10/03/2023",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			out := finalize(raw, []domain.Snippet{feriasSnippet()})
			lines := strings.Split(out, "\n")
			require.Len(t, lines, 3)
			require.True(t, strings.HasPrefix(lines[0], "O período de férias é de 30 dias"))
			require.Equal(t, "Portaria 45, nº 45, férias, 10/03/2023.", lines[2])
		})
	}
}

func TestFinalize_UsesFirstCitableSnippet(t *testing.T) {
	uncitable := domain.Snippet{DocName: "Nota", Text: "sem data"}
	second := feriasSnippet()
	second.DocName, second.DocNumber = "Portaria 99", "99"
	out := finalize("Resposta.", []domain.Snippet{uncitable, feriasSnippet(), second})
	require.Equal(t, "Portaria 45, nº 45, férias, 10/03/2023.", lastLine(out))
}

func TestFinalize_NoCitableSnippet(t *testing.T) {
	out := finalize("Resposta sem base.", []domain.Snippet{{DocName: "Nota", Text: "x"}})
	require.Equal(t, "Resposta sem base.", out)
}

func TestFinalize_RespectsLimitAndKeepsCitation(t *testing.T) {
	long := strings.Repeat("Frase longa sobre férias. ", 400)
	out := finalize(long, []domain.Snippet{feriasSnippet()})
	require.LessOrEqual(t, utf8.RuneCountInString(out), MaxReplyRunes)
	require.Equal(t, "Portaria 45, nº 45, férias, 10/03/2023.", lastLine(out))
}

func TestFinalize_SkipsOversizedCitation(t *testing.T) {
	huge := feriasSnippet()
	huge.DocName = strings.Repeat("Portaria ", 600)

	out := finalize("Resposta curta.", []domain.Snippet{huge})
	require.Equal(t, "Resposta curta.", out)

	long := strings.Repeat("Frase longa sobre férias. ", 400)
	out = finalize(long, []domain.Snippet{huge, feriasSnippet()})
	require.LessOrEqual(t, utf8.RuneCountInString(out), MaxReplyRunes)
	require.Equal(t, "Portaria 45, nº 45, férias, 10/03/2023.", lastLine(out))
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "curto", truncate("curto", 10))
	require.Equal(t, "", truncate("abc", 0))

	// paragraph boundary in the second half wins
	para := "Primeiro parágrafo.\n\nSegundo parágrafo bem mais longo"
	require.Equal(t, "Primeiro parágrafo.", truncate(para, 30))

	// sentence boundary
	require.Equal(t, "Uma frase. Outra frase.", truncate("Uma frase. Outra frase. Mais texto aqui", 30))

	// hard cut
	hard := truncate(strings.Repeat("x", 50), 10)
	require.Equal(t, 10, utf8.RuneCountInString(hard))
	require.True(t, strings.HasSuffix(hard, "…"))
}

func TestStripCitations_KeepsOrdinaryLines(t *testing.T) {
	in := "Conforme a norma, no caso de férias, consulte o RH.\nPortaria 1, nº 1, geral, 01/01/2020."
	require.Equal(t, "Conforme a norma, no caso de férias, consulte o RH.", stripCitations(in))
}

func TestStripCitations_KeepsTextBeforeCitation(t *testing.T) {
	in := "Primeira linha.\nSão 30 dias. Portaria 45, nº 45, férias, 10/03/2023.\nPortaria 45, nº 45, férias, 10/03/2023."
	require.Equal(t, "Primeira linha.\nSão 30 dias.", stripCitations(in))
}
