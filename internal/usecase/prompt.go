package usecase

import (
	"fmt"
	"strings"

	"wa-relay/internal/domain"
)

const citationFormat = "Nome do documento, nº XXX, assunto, DD/MM/AAAA."

func buildPromptMessages(question string, snippets []domain.Snippet, history []domain.Turn) []domain.ChatMessage {
	messages := []domain.ChatMessage{
		{Role: "system", Content: buildPolicyPrompt()},
		{Role: "system", Content: buildContextPrompt(snippets)},
	}

	for _, t := range history {
		if m, ok := historyToPromptMessage(t); ok {
			messages = append(messages, m)
		}
	}

	messages = append(messages, domain.ChatMessage{
		Role:    "user",
		Content: strings.TrimSpace(question),
	})
	return messages
}

func buildPolicyPrompt() string {
	return strings.Join([]string{
		"Papel:",
		"Você atende policiais militares via WhatsApp.",
		"",
		"Tarefa:",
		"Responda à pergunta atual usando apenas os trechos de documentos fornecidos nesta requisição.",
		"",
		"Regras:",
		behaviorRules(),
		"",
		"Citação:",
		"Ao final, inclua uma única citação no formato: " + citationFormat,
	}, "\n")
}

func behaviorRules() string {
	return strings.Join([]string{
		"1) Responda em no máximo 3 linhas, de forma curta, objetiva e impessoal.",
		"2) Não invente artigos, incisos ou datas.",
		"3) Use o histórico apenas para entender a pergunta; a base da resposta são os trechos.",
		"4) Se a resposta não estiver nos trechos, diga que não localizou no acervo atual.",
	}, "\n")
}

func buildContextPrompt(snippets []domain.Snippet) string {
	if len(snippets) == 0 {
		return "Contexto (trechos recuperados):\nNENHUM TRECHO ENCONTRADO."
	}
	blocks := make([]string, 0, len(snippets))
	for _, s := range snippets {
		blocks = append(blocks, formatSnippet(s))
	}
	return "Contexto (trechos recuperados):\n" + strings.Join(blocks, "\n---\n")
}

func formatSnippet(s domain.Snippet) string {
	return fmt.Sprintf("[DOCUMENTO:%s | Nº:%s | ASSUNTO:%s | DATA:%s | FONTE:%s]\n%s",
		orDefault(s.DocName, "Documento"),
		orDefault(s.DocNumber, "s/ nº"),
		orDefault(s.Subject, "assunto não informado"),
		orDefault(s.Date, "s/ data"),
		strings.TrimSpace(s.SourceURI),
		strings.TrimSpace(s.Text),
	)
}

func historyToPromptMessage(t domain.Turn) (domain.ChatMessage, bool) {
	text := strings.TrimSpace(t.Text)
	if text == "" {
		return domain.ChatMessage{}, false
	}
	switch t.Role {
	case domain.RoleUser:
		return domain.ChatMessage{Role: "user", Content: text}, true
	case domain.RoleBot:
		return domain.ChatMessage{Role: "assistant", Content: text}, true
	}
	return domain.ChatMessage{}, false
}

func orDefault(s, def string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	return s
}
