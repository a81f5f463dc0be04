package app

import (
	"fmt"
	"strings"

	"pdfchat/internal/model"
)

const baseInstruction = `You are an assistant that answers questions about one specific document.
Answer only from the content of the attached document. If the answer is not present in the document, say explicitly that it cannot be found there. Never fabricate facts, figures, or quotes. If a question is ambiguous, ask for clarification instead of guessing. Always answer in the same language the user writes in.`

const markerDirective = `When you refer to visual content or to something on a specific page, include an inline marker of the form [See Page N], where N is the page number. For example, if the answer comes from the first listed page, end the sentence with %s.`

// BuildInstruction produces the grounding instruction for a conversation.
// Deterministic and free of I/O; built once per conversation and cached.
// The marker format in the directive must stay in sync with the refmark
// scanner.
func BuildInstruction(pages []model.PageImage) string {
	var b strings.Builder
	b.WriteString(baseInstruction)
	if len(pages) == 0 {
		return b.String()
	}

	b.WriteString("\n\nThe document has the following pages:\n")
	for _, page := range pages {
		b.WriteString("- ")
		b.WriteString(page.Label)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	example := fmt.Sprintf("[See Page %d]", pages[0].PageNumber)
	b.WriteString(fmt.Sprintf(markerDirective, example))
	return b.String()
}
