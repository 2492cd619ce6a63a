package llm

import (
	"fmt"

	"github.com/tmc/langchaingo/prompts"
)

var (
	summaryPrompt = prompts.NewPromptTemplate(
		"Please provide a concise summary of the following legal document:\n\n{{.text}}",
		[]string{"text"},
	)

	paragraphSummaryPrompt = prompts.NewPromptTemplate(
		"Please provide a concise summary of the following text:\n\n{{.text}}",
		[]string{"text"},
	)

	chatPrompt = prompts.NewPromptTemplate(`Based on the following context from a legal document, please answer the question.
Use only the information in the context. If the context does not contain the answer, say that the document does not say.
Do not invent facts, clauses, dates, amounts or parties.

Context:
{{.context}}

Question: {{.question}}`,
		[]string{"context", "question"},
	)

	clauseSectionsPrompt = prompts.NewPromptTemplate(`You are given a Vietnamese legal document. Split it into its sections (articles, clauses, chapters).
For every section, output the section's content as a nested bullet list, wrapped in a pseudo-XML tag whose name is the
section title written WITHOUT Vietnamese diacritics and with spaces replaced by underscores. For example:

<Dieu_1_Pham_vi_dieu_chinh>
- first point
  - detail
- second point
</Dieu_1_Pham_vi_dieu_chinh>

Output only the tagged sections, in document order.

Document:
{{.text}}`,
		[]string{"text"},
	)

	clauseTitlesPrompt = prompts.NewPromptTemplate(`Each line below is a Vietnamese section title written without diacritics, with underscores instead of spaces.
Restore the Vietnamese diacritics and spaces of every title. Wrap each restored title in a tag named exactly as the
original line, one per line, in the same order. For example, for the line Dieu_1_Pham_vi_dieu_chinh output:
<Dieu_1_Pham_vi_dieu_chinh>Điều 1. Phạm vi điều chỉnh</Dieu_1_Pham_vi_dieu_chinh>

Titles:
{{.tags}}`,
		[]string{"tags"},
	)
)

func render(tmpl prompts.PromptTemplate, values map[string]any) (string, error) {
	out, err := tmpl.Format(values)
	if err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return out, nil
}
