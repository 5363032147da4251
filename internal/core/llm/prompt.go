package llm

import (
	"strings"

	"github.com/joseph-ayodele/docscan/constants"
)

// TruncateRunes cuts s to at most n characters without splitting a rune.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// BuildSystemPrompt describes the role and the exact JSON shape expected back.
func BuildSystemPrompt() string {
	parts := []string{
		"You analyze scanned business documents from their OCR text.",
		"Return ONLY one JSON object, no markdown and no commentary, with exactly these keys:",
		`{"category": string, "category_confidence": number 0..1, "summary": string, "tags": [string],`,
		`"entities": {"people": [string], "organizations": [string], "dates": [string], "amounts": [string], "addresses": [string], "references": [string]},`,
		`"document_date": "YYYY-MM-DD" or null, "key_points": [string]}.`,
		"category MUST be exactly one of: " + strings.Join(constants.AsStringSlice(), ", ") + ". If uncertain, use Other.",
		"summary is two or three sentences in the document's own language.",
		"references are document numbers, invoice numbers or other identifiers.",
		"If the text is unclear in places, infer from the surrounding context.",
		"Use empty arrays for missing lists. Never invent values that are not supported by the document.",
	}
	return strings.Join(parts, "\n")
}

// BuildUserPrompt wraps the (already truncated) OCR text. With an image attached the
// text is framed as a reference only.
func BuildUserPrompt(req Request, imageAttached bool) string {
	var b strings.Builder
	if f := strings.TrimSpace(req.Filename); f != "" {
		b.WriteString("Filename: ")
		b.WriteString(f)
		b.WriteString("\n\n")
	}
	if imageAttached {
		b.WriteString("Analyze the attached page image. Use the OCR text below as a reference.\n\n")
		b.WriteString("--- OCR text (reference) ---\n")
	} else {
		b.WriteString("The following is the OCR text of a document. Analyze it.\n\n")
		b.WriteString("--- OCR text ---\n")
	}
	b.WriteString(req.Text)
	b.WriteString("\n--- end of text ---\n\n")
	b.WriteString("Answer with the JSON object described in the instructions.")
	return b.String()
}
