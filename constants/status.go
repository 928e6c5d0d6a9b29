package constants

// AttemptStatus is the label recorded for one provider attempt (logs and metrics).
type AttemptStatus string

// Stable values (used as metric label values).
const (
	AttemptSuccess   AttemptStatus = "SUCCESS"
	AttemptTransient AttemptStatus = "TRANSIENT" // rate limited, unavailable
	AttemptFatal     AttemptStatus = "FATAL"     // malformed response, permanent error
)

// AnalysisStatus is the terminal label of one orchestrated analysis.
type AnalysisStatus string

const (
	AnalysisPrimaryOK   AnalysisStatus = "PRIMARY_OK"
	AnalysisSecondaryOK AnalysisStatus = "SECONDARY_OK"
	AnalysisExhausted   AnalysisStatus = "EXHAUSTED"
	AnalysisCancelled   AnalysisStatus = "CANCELLED"
	AnalysisInvalid     AnalysisStatus = "INVALID"
)
