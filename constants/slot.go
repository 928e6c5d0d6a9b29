package constants

import (
	"strings"
)

// MetadataSlot names one optional metadata field of an analysis result.
type MetadataSlot string

const (
	Metadata1 MetadataSlot = "metadata_1"
	Metadata2 MetadataSlot = "metadata_2"
	Metadata3 MetadataSlot = "metadata_3"
)

// NarrativeField is the JSON key of the mandatory narrative.
const NarrativeField = "narrative"

var allSlots = []MetadataSlot{
	Metadata1,
	Metadata2,
	Metadata3,
}

// Slots returns the metadata slots in declaration order.
func Slots() []MetadataSlot {
	out := make([]MetadataSlot, len(allSlots))
	copy(out, allSlots)
	return out
}

func AsStringSlice() []string {
	result := make([]string, len(allSlots))
	for i, s := range allSlots {
		result[i] = string(s)
	}
	return result
}

// synonyms maps field names seen in provider output (and in older prompt
// templates) to the canonical JSON key.
var synonyms = map[string]string{
	"analise":   NarrativeField,
	"análise":   NarrativeField,
	"analysis":  NarrativeField,
	"narrative": NarrativeField,
	"metadado1": string(Metadata1),
	"metadado2": string(Metadata2),
	"metadado3": string(Metadata3),
	"metadata1": string(Metadata1),
	"metadata2": string(Metadata2),
	"metadata3": string(Metadata3),
}

// CanonicalField resolves a response key to its canonical name.
func CanonicalField(input string) (string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	if c, ok := synonyms[normalized]; ok {
		return c, true
	}
	for _, s := range allSlots {
		if normalized == string(s) {
			return string(s), true
		}
	}
	return input, false
}
