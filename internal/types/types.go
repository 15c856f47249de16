package types

// Defaults used when a report field cannot be recovered
const (
	DefaultMatchScore = "N/A"
	DefaultSummary    = "No summary provided."
)

// AnalysisRequest is the resolved text of both documents
type AnalysisRequest struct {
	ResumeText string `json:"resumeText"`
	JobText    string `json:"jobDescriptionText"`
}

// AnalysisReport is the canonical response of an analysis. Field order
// here is the order in the serialized output.
type AnalysisReport struct {
	MatchScore       string            `json:"match_score" yaml:"match_score"`
	Recommendations  []string          `json:"recommendations" yaml:"recommendations"`
	RewrittenBullets map[string]string `json:"rewritten_bullets" yaml:"rewritten_bullets"`
	Summary          string            `json:"summary" yaml:"summary"`
}

// NewDefaultReport returns a report with every field at its default
func NewDefaultReport() AnalysisReport {
	return AnalysisReport{
		MatchScore:       DefaultMatchScore,
		Recommendations:  []string{},
		RewrittenBullets: map[string]string{},
		Summary:          DefaultSummary,
	}
}
