package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/joseph-ayodele/doc-analyzer/constants"
)

// slotDescriptions are passed to providers alongside the schema.
var slotDescriptions = map[constants.MetadataSlot]string{
	constants.Metadata1: "Optional metadata value 1, as defined by the instruction prompt.",
	constants.Metadata2: "Optional metadata value 2, as defined by the instruction prompt.",
	constants.Metadata3: "Optional metadata value 3, as defined by the instruction prompt.",
}

// NarrativeDescription documents the mandatory narrative field.
const NarrativeDescription = "The detailed analysis of the documents according to the instruction prompt."

// SlotDescription returns the provider-facing description of a metadata slot.
func SlotDescription(slot constants.MetadataSlot) string {
	return slotDescriptions[slot]
}

// BuildAnalysisJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a generic map.
// We pass this to providers as a structured output constraint and also use it locally to validate.
func BuildAnalysisJSONSchema() map[string]any {
	props := map[string]any{
		constants.NarrativeField: map[string]any{
			"type":        "string",
			"minLength":   1,
			"description": NarrativeDescription,
		},
	}
	for _, slot := range constants.Slots() {
		props[string(slot)] = map[string]any{
			"type":        "string",
			"description": slotDescriptions[slot],
		}
	}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
		"required":             []string{constants.NarrativeField},
	}
}

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return compileSchema(BuildAnalysisJSONSchema())
})

func compileSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// ValidateJSONAgainstSchema validates "data" against the analysis schema.
func ValidateJSONAgainstSchema(data []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}

var errEmptyContent = errors.New("empty response content")

// DecodeResult turns raw provider output into an AnalysisResult.
// Strict validation first; on failure a lenient normalization pass is applied and
// the document revalidated. Any error here means the response is malformed.
func DecodeResult(raw []byte, logger *zap.Logger) (AnalysisResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	content := stripCodeFence(raw)
	if len(content) == 0 {
		return AnalysisResult{}, errEmptyContent
	}

	if err := ValidateJSONAgainstSchema(content); err != nil {
		cleaned, dropped, sErr := NormalizeAndSanitizeJSON(content, logger)
		if sErr != nil {
			return AnalysisResult{}, fmt.Errorf("sanitize failed: %w", sErr)
		}
		if vErr := ValidateJSONAgainstSchema(cleaned); vErr != nil {
			return AnalysisResult{}, fmt.Errorf("schema validation failed: %w", vErr)
		}
		logger.Warn("llm.decode.lenient_sanitize_applied", zap.Strings("dropped", dropped))
		content = cleaned
	}

	var m map[string]any
	if err := json.Unmarshal(content, &m); err != nil {
		return AnalysisResult{}, fmt.Errorf("unmarshal fields: %w", err)
	}

	narrative, _ := m[constants.NarrativeField].(string)
	narrative = strings.TrimSpace(narrative)
	if narrative == "" {
		return AnalysisResult{}, fmt.Errorf("narrative is empty")
	}
	out := AnalysisResult{Narrative: narrative}
	for _, slot := range constants.Slots() {
		s, ok := m[string(slot)].(string)
		if !ok {
			continue
		}
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		if out.Metadata == nil {
			out.Metadata = make(map[constants.MetadataSlot]string, 3)
		}
		out.Metadata[slot] = s
	}
	return out, nil
}

// stripCodeFence removes a surrounding ```json fence some models add despite JSON mode.
func stripCodeFence(raw []byte) []byte {
	s := bytes.TrimSpace(raw)
	if !bytes.HasPrefix(s, []byte("```")) {
		return s
	}
	s = bytes.TrimPrefix(s, []byte("```"))
	if nl := bytes.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = bytes.TrimSuffix(bytes.TrimSpace(s), []byte("```"))
	return bytes.TrimSpace(s)
}
