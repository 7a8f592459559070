package domain

import (
	"fmt"
	"strings"
	"time"
)

// CitationDateLayout is the DD/MM/YYYY layout used in citations.
const CitationDateLayout = "02/01/2006"

// Snippet is a retrieved passage plus the metadata needed to cite it.
type Snippet struct {
	DocID     string
	DocName   string
	DocNumber string
	Subject   string
	Date      string
	Article   string
	Text      string
	SourceURI string
	Score     float64
}

// Citation renders the snippet as "Nome do documento, nº XXX, assunto, DD/MM/AAAA.".
// It reports false when the snippet lacks a name, a number or a valid date.
func (s Snippet) Citation() (string, bool) {
	name := strings.TrimSpace(s.DocName)
	number := strings.TrimSpace(s.DocNumber)
	subject := strings.TrimSpace(s.Subject)
	if name == "" || number == "" || subject == "" {
		return "", false
	}
	if _, err := time.Parse(CitationDateLayout, s.Date); err != nil {
		return "", false
	}
	return fmt.Sprintf("%s, nº %s, %s, %s.", name, number, subject, s.Date), true
}
