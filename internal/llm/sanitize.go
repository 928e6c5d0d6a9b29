package llm

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/joseph-ayodele/doc-analyzer/constants"
)

// NormalizeAndSanitizeJSON
// - Renames known synonyms (Analise -> narrative, Metadado1 -> metadata_1)
// - Drops null/empty optionals
// - Coerces numeric/bool -> string for metadata slots
// - Removes unknown keys (strict additionalProperties = false friendliness)
func NormalizeAndSanitizeJSON(raw []byte, logger *zap.Logger) ([]byte, []string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}

	dropped := make([]string, 0, 4)

	// 1) rename synonyms to the schema keys; an existing canonical key wins,
	// then the lowest synonym in byte order
	for _, k := range slices.Sorted(maps.Keys(m)) {
		v := m[k]
		canon, ok := constants.CanonicalField(k)
		if !ok || canon == k {
			continue
		}
		if _, exists := m[canon]; !exists {
			m[canon] = v
		}
		delete(m, k)
		dropped = append(dropped, k+"->"+canon)
	}

	// 2) narrative: accept scalars, trim
	switch t := m[constants.NarrativeField].(type) {
	case string:
		m[constants.NarrativeField] = strings.TrimSpace(t)
	case float64:
		m[constants.NarrativeField] = strconv.FormatFloat(t, 'f', -1, 64)
	}

	// 3) drop null / "" for optionals; coerce scalars to strings
	for _, slot := range constants.AsStringSlice() {
		v, ok := m[slot]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case string:
			s := strings.TrimSpace(t)
			if s == "" || strings.EqualFold(s, "null") {
				delete(m, slot)
				dropped = append(dropped, slot+"(empty)")
			} else {
				m[slot] = s
			}
		case float64:
			m[slot] = strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			m[slot] = strconv.FormatBool(t)
		case nil:
			delete(m, slot)
			dropped = append(dropped, slot+"(null)")
		default:
			// unexpected type -> drop
			delete(m, slot)
			dropped = append(dropped, slot+"(type)")
		}
	}

	// 4) remove unknown keys
	allowed := map[string]struct{}{constants.NarrativeField: {}}
	for _, slot := range constants.AsStringSlice() {
		allowed[slot] = struct{}{}
	}
	for k := range maps.Clone(m) {
		if _, ok := allowed[k]; !ok {
			delete(m, k)
			dropped = append(dropped, k+"(unknown)")
		}
	}

	out, err := json.Marshal(m)
	if err != nil {
		return nil, dropped, fmt.Errorf("sanitize: encode: %w", err)
	}
	if len(dropped) > 0 {
		logger.Debug("llm.decode.normalize_sanitize", zap.Strings("dropped", dropped))
	}
	return out, dropped, nil
}
