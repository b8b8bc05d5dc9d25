package guide

import (
	"fmt"
	"strings"

	"cogni/internal/core"
)

// sectionPromptTemplate produces the first markdown section for a unit.
const sectionPromptTemplate = `You are a helpful study assistant. Create a study guide section for the topic "%s" based on the following class notes.

CLASS NOTES:
%s

Write a well-organized markdown section covering:
- **Key Concepts**: explain the main concepts clearly with definitions
- **Important Terms**: key vocabulary with definitions
- **Review Questions**: 2-3 questions to test understanding

FORMATTING:
- Use ### sub-headers, bullet points and **bold** for important terms
- For math, use LaTeX notation: $x^2$ or $$\frac{a}{b}$$
- Be thorough but clear
- Do NOT include a top-level title; start directly with the content`

// mergePromptTemplate extends an existing section with newly uploaded notes.
const mergePromptTemplate = `You are a helpful study assistant maintaining a study guide section for the topic "%s".

EXISTING SECTION:
%s

NEW CLASS NOTES:
%s

Update the section to incorporate the new notes. Merge and extend the existing content rather than restating it: keep everything that is still accurate, weave the new material into the right places, and only rewrite passages the new notes contradict or improve.

FORMATTING:
- Keep the existing structure (### sub-headers, bullets, **bold** terms)
- For math, use LaTeX notation: $x^2$ or $$\frac{a}{b}$$
- Do NOT include a top-level title; start directly with the content
- Return the complete updated section`

// buildSectionPrompt builds the generation prompt for a unit. When the unit
// has an existing section the prompt instructs the model to merge/extend;
// otherwise it asks for a fresh section.
func buildSectionPrompt(label, existingSection string, newUploads []core.Upload) string {
	notes := formatNotes(newUploads)

	if existingSection == "" {
		return fmt.Sprintf(sectionPromptTemplate, label, notes)
	}
	return fmt.Sprintf(mergePromptTemplate, label, existingSection, notes)
}

// formatNotes numbers and concatenates upload texts the way the generation
// prompt expects.
func formatNotes(uploads []core.Upload) string {
	var b strings.Builder
	for i, u := range uploads {
		fmt.Fprintf(&b, "--- Note %d: %s ---\n%s\n\n", i+1, u.Title, u.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}
