package llm

import (
	"encoding/base64"
	"strings"

	"github.com/joseph-ayodele/doc-analyzer/constants"
)

// OverrideHeader introduces the caller's context override in every prompt.
const OverrideHeader = "User-provided context. These values take precedence over any conflicting value found in the documents:"

// BuildSystemPrompt composes the system message with schema and formatting rules.
func BuildSystemPrompt() string {
	parts := []string{
		"You are a document analysis assistant.",
		"Analyze the provided documents according to the instruction and answer ONLY with JSON that matches the provided JSON Schema.",
		"Put the full analysis in '" + constants.NarrativeField + "'; it must never be empty.",
		"Fill '" + strings.Join(constants.AsStringSlice(), "', '") + "' only when the instruction defines them and the documents support a value.",
		"Never output null. If a field is not present, omit it.",
		"When a user-provided context is given, its values take precedence over conflicting values in the documents.",
	}
	return strings.Join(parts, " ")
}

// BuildOverridePart renders the context override, or "" when absent.
func BuildOverridePart(override string) string {
	o := strings.TrimSpace(override)
	if o == "" {
		return ""
	}
	return OverrideHeader + "\n" + o
}

// DataURL encodes a document as a data URL (inline image parts).
func DataURL(doc Document) string {
	mt := constants.NormalizeMediaType(doc.MediaType)
	if mt == "" {
		mt = constants.MediaTypeUnknown
	}
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(doc.Data)
}
