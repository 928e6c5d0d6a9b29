package llm

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/joseph-ayodele/doc-analyzer/constants"
)

func TestBuildAnalysisJSONSchema(t *testing.T) {
	schema := BuildAnalysisJSONSchema()

	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, false, schema["additionalProperties"])
	assert.Equal(t, []string{"narrative"}, schema["required"])

	props := schema["properties"].(map[string]any)
	assert.Len(t, props, 4)
	for _, slot := range constants.AsStringSlice() {
		assert.Contains(t, props, slot)
	}
}

func TestDecodeResult(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		want     AnalysisResult
		wantFail bool
	}{
		{
			name: "narrative only",
			raw:  `{"narrative":"A"}`,
			want: AnalysisResult{Narrative: "A"},
		},
		{
			name: "with metadata",
			raw:  `{"narrative":"A","metadata_1":"x","metadata_3":"z"}`,
			want: AnalysisResult{Narrative: "A", Metadata: map[constants.MetadataSlot]string{
				constants.Metadata1: "x",
				constants.Metadata3: "z",
			}},
		},
		{
			name: "legacy field names are normalized",
			raw:  `{"Analise":"  B ","Metadado2":"42","Metadado1":null}`,
			want: AnalysisResult{Narrative: "B", Metadata: map[constants.MetadataSlot]string{
				constants.Metadata2: "42",
			}},
		},
		{
			name: "numeric metadata coerced and unknown keys stripped",
			raw:  `{"narrative":"C","metadata_1":7,"extra":"drop me"}`,
			want: AnalysisResult{Narrative: "C", Metadata: map[constants.MetadataSlot]string{
				constants.Metadata1: "7",
			}},
		},
		{
			name: "code fence",
			raw:  "```json\n{\"narrative\":\"D\"}\n```",
			want: AnalysisResult{Narrative: "D"},
		},
		{name: "empty narrative", raw: `{"narrative":"   "}`, wantFail: true},
		{name: "missing narrative", raw: `{"metadata_1":"x"}`, wantFail: true},
		{name: "not json", raw: `the answer is A`, wantFail: true},
		{name: "empty", raw: ``, wantFail: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeResult([]byte(tt.raw), zap.NewNop())
			if tt.wantFail {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeResult_Deterministic(t *testing.T) {
	raw := []byte(`{"narrative":"A","metadata_2":"b","metadata_1":"a"}`)
	r1, err := DecodeResult(raw, nil)
	require.NoError(t, err)
	r2, err := DecodeResult(raw, nil)
	require.NoError(t, err)

	b1, err := json.Marshal(r1)
	require.NoError(t, err)
	b2, err := json.Marshal(r2)
	require.NoError(t, err)
	assert.Equal(t, b1, b2)
}

func TestDecodeResult_CompetingSynonymsResolveStably(t *testing.T) {
	raw := []byte(`{"analysis":"from-analysis","Analise":"from-analise","metadata1":"m","Metadado1":"M"}`)
	for range 100 {
		got, err := DecodeResult(raw, nil)
		require.NoError(t, err)
		assert.Equal(t, "from-analise", got.Narrative)
		assert.Equal(t, "M", got.Metadata[constants.Metadata1])
	}

	got, err := DecodeResult([]byte(`{"narrative":"canonical","Analise":"synonym"}`), nil)
	require.NoError(t, err)
	assert.Equal(t, "canonical", got.Narrative)
}

func TestBuildOverridePart(t *testing.T) {
	p := BuildOverridePart("  name=Ana ")
	assert.True(t, strings.HasPrefix(p, OverrideHeader))
	assert.True(t, strings.HasSuffix(p, "\nname=Ana"))

	assert.Empty(t, BuildOverridePart("   "))
}

func TestKindForHTTPStatus(t *testing.T) {
	assert.Equal(t, KindRateLimited, KindForHTTPStatus(http.StatusTooManyRequests))
	assert.Equal(t, KindUnavailable, KindForHTTPStatus(http.StatusServiceUnavailable))
	assert.Equal(t, KindUnavailable, KindForHTTPStatus(http.StatusInternalServerError))
	assert.Equal(t, KindUnknown, KindForHTTPStatus(http.StatusUnauthorized))
	assert.Equal(t, KindUnknown, KindForHTTPStatus(http.StatusBadRequest))
}

func TestFailed_TagsByKind(t *testing.T) {
	assert.Equal(t, OutcomeTransient, Failed(NewCallError(KindRateLimited, "p", "v", nil)).Tag)
	assert.Equal(t, OutcomeTransient, Failed(NewCallError(KindUnavailable, "p", "v", nil)).Tag)
	assert.Equal(t, OutcomeFatal, Failed(NewCallError(KindMalformed, "p", "v", nil)).Tag)
	assert.Equal(t, OutcomeFatal, Failed(NewCallError(KindUnknown, "p", "v", nil)).Tag)
}
