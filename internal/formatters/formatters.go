package formatters

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"resumealign/internal/ai"
	"resumealign/internal/types"

	"github.com/charmbracelet/glamour"
	"gopkg.in/yaml.v3"
)

// Formatter interface for different output formats
type Formatter interface {
	Format(data any) (string, error)
	SupportedType() string
}

// FormatterRegistry manages all available formatters
type FormatterRegistry struct {
	formatters map[string]map[string]Formatter // format -> type -> formatter
}

// NewFormatterRegistry creates a new formatter registry with default formatters
func NewFormatterRegistry() *FormatterRegistry {
	registry := &FormatterRegistry{
		formatters: make(map[string]map[string]Formatter),
	}

	registry.RegisterFormatter("json", "any", &JSONFormatter{})
	registry.RegisterFormatter("yaml", "any", &YAMLFormatter{})
	registry.RegisterFormatter("text", "AnalysisReport", &ReportTextFormatter{})
	registry.RegisterFormatter("markdown", "AnalysisReport", &ReportMarkdownFormatter{})
	registry.RegisterFormatter("terminal", "AnalysisReport", &ReportTerminalFormatter{WordWrap: 80})
	registry.RegisterFormatter("text", "Prompt", &PromptTextFormatter{})
	registry.RegisterFormatter("markdown", "Prompt", &PromptTextFormatter{})
	registry.RegisterFormatter("terminal", "Prompt", &PromptTextFormatter{})

	return registry
}

// RegisterFormatter registers a new formatter for a specific format and data type
func (fr *FormatterRegistry) RegisterFormatter(format, dataType string, formatter Formatter) {
	if fr.formatters[format] == nil {
		fr.formatters[format] = make(map[string]Formatter)
	}
	fr.formatters[format][dataType] = formatter
}

// Format formats data using the appropriate formatter
func (fr *FormatterRegistry) Format(data any, format string) (string, error) {
	dataType := getDataType(data)

	if formatters, exists := fr.formatters[format]; exists {
		if formatter, exists := formatters[dataType]; exists {
			return formatter.Format(data)
		}
		if formatter, exists := formatters["any"]; exists {
			return formatter.Format(data)
		}
	}

	return "", fmt.Errorf("no formatter found for format '%s' and type '%s'", format, dataType)
}

// GetSupportedFormats returns all supported formats, sorted
func (fr *FormatterRegistry) GetSupportedFormats() []string {
	formats := make([]string, 0, len(fr.formatters))
	for format := range fr.formatters {
		formats = append(formats, format)
	}
	sort.Strings(formats)
	return formats
}

func getDataType(data any) string {
	switch data.(type) {
	case types.AnalysisReport, *types.AnalysisReport:
		return "AnalysisReport"
	case ai.Prompt, *ai.Prompt:
		return "Prompt"
	default:
		return "any"
	}
}

func asReport(data any) (types.AnalysisReport, error) {
	switch r := data.(type) {
	case types.AnalysisReport:
		return r, nil
	case *types.AnalysisReport:
		if r != nil {
			return *r, nil
		}
	}
	return types.AnalysisReport{}, fmt.Errorf("expected AnalysisReport, got %T", data)
}

// JSONFormatter handles JSON formatting for any data type
type JSONFormatter struct{}

func (jf *JSONFormatter) Format(data any) (string, error) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", err
	}
	return string(jsonData), nil
}

func (jf *JSONFormatter) SupportedType() string {
	return "any"
}

// YAMLFormatter renders any data as YAML
type YAMLFormatter struct{}

func (yf *YAMLFormatter) Format(data any) (string, error) {
	out, err := yaml.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (yf *YAMLFormatter) SupportedType() string {
	return "any"
}

// ReportTextFormatter renders a report as plain text
type ReportTextFormatter struct{}

func (tf *ReportTextFormatter) Format(data any) (string, error) {
	report, err := asReport(data)
	if err != nil {
		return "", err
	}

	var output strings.Builder

	output.WriteString("=== ALIGNMENT REPORT ===\n")
	output.WriteString(fmt.Sprintf("Match Score: %s\n\n", displayScore(report.MatchScore)))

	output.WriteString("Summary:\n")
	output.WriteString(report.Summary)
	output.WriteString("\n\n")

	output.WriteString("=== RECOMMENDATIONS ===\n")
	if len(report.Recommendations) == 0 {
		output.WriteString("None\n")
	}
	for i, recommendation := range report.Recommendations {
		output.WriteString(fmt.Sprintf("%d. %s\n", i+1, recommendation))
	}
	output.WriteString("\n")

	output.WriteString("=== REWRITTEN BULLETS ===\n")
	if len(report.RewrittenBullets) == 0 {
		output.WriteString("None\n")
	}
	for _, original := range sortedKeys(report.RewrittenBullets) {
		output.WriteString(fmt.Sprintf("- %s\n  -> %s\n", original, report.RewrittenBullets[original]))
	}

	return output.String(), nil
}

func (tf *ReportTextFormatter) SupportedType() string {
	return "AnalysisReport"
}

// ReportMarkdownFormatter renders a report as markdown
type ReportMarkdownFormatter struct{}

func (mf *ReportMarkdownFormatter) Format(data any) (string, error) {
	report, err := asReport(data)
	if err != nil {
		return "", err
	}

	var output strings.Builder

	output.WriteString("# Resume Alignment Report\n\n")
	output.WriteString(fmt.Sprintf("**Match Score:** %s\n\n", displayScore(report.MatchScore)))

	output.WriteString("## Summary\n\n")
	output.WriteString(report.Summary)
	output.WriteString("\n\n")

	if len(report.Recommendations) > 0 {
		output.WriteString("## Recommendations\n\n")
		for i, recommendation := range report.Recommendations {
			output.WriteString(fmt.Sprintf("%d. %s\n", i+1, recommendation))
		}
		output.WriteString("\n")
	}

	if len(report.RewrittenBullets) > 0 {
		output.WriteString("## Rewritten Bullets\n\n")
		output.WriteString("| Original | Suggested |\n")
		output.WriteString("|---|---|\n")
		for _, original := range sortedKeys(report.RewrittenBullets) {
			output.WriteString(fmt.Sprintf("| %s | %s |\n", escapeCell(original), escapeCell(report.RewrittenBullets[original])))
		}
	}

	return output.String(), nil
}

func (mf *ReportMarkdownFormatter) SupportedType() string {
	return "AnalysisReport"
}

// ReportTerminalFormatter renders the markdown report for a terminal
type ReportTerminalFormatter struct {
	WordWrap int
}

func (rf *ReportTerminalFormatter) Format(data any) (string, error) {
	markdown, err := (&ReportMarkdownFormatter{}).Format(data)
	if err != nil {
		return "", err
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(rf.WordWrap),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create terminal renderer: %w", err)
	}
	return renderer.Render(markdown)
}

func (rf *ReportTerminalFormatter) SupportedType() string {
	return "AnalysisReport"
}

// PromptTextFormatter shows the prompt a dry run would send
type PromptTextFormatter struct{}

func (pf *PromptTextFormatter) Format(data any) (string, error) {
	var prompt ai.Prompt
	switch p := data.(type) {
	case ai.Prompt:
		prompt = p
	case *ai.Prompt:
		prompt = *p
	default:
		return "", fmt.Errorf("expected Prompt, got %T", data)
	}

	var output strings.Builder
	output.WriteString("=== SYSTEM ===\n")
	output.WriteString(prompt.System)
	output.WriteString("\n\n=== USER ===\n")
	output.WriteString(prompt.User)
	output.WriteString("\n")
	return output.String(), nil
}

func (pf *PromptTextFormatter) SupportedType() string {
	return "Prompt"
}

// displayScore adds the scale to a bare number
func displayScore(score string) string {
	if score == "" {
		return types.DefaultMatchScore
	}
	for _, r := range score {
		if r < '0' || r > '9' {
			return score
		}
	}
	return score + "/100"
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

// Global formatter registry
var GlobalRegistry = NewFormatterRegistry()
