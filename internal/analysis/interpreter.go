package analysis

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
	"unicode"

	"resumealign/internal/config"
	"resumealign/internal/types"
)

// Report field names as they appear in model replies
const (
	FieldMatchScore       = "match_score"
	FieldRecommendations  = "recommendations"
	FieldRewrittenBullets = "rewritten_bullets"
	FieldSummary          = "summary"
)

// Outcome is the result of interpreting one reply. Strict reports whether
// the reply parsed as a JSON object outright; Defaulted lists the fields
// that were absent or could not be recovered.
type Outcome struct {
	Report    types.AnalysisReport
	Strict    bool
	Defaulted []string
}

// Interpreter turns raw model text into a report. It holds only its
// settings, so one value can serve concurrent requests.
type Interpreter struct {
	splitMode   string
	stripFences bool
}

// NewInterpreter creates an interpreter from analysis settings. An empty
// split mode means aware.
func NewInterpreter(cfg config.AnalysisConfig) *Interpreter {
	mode := cfg.SplitMode
	if mode == "" {
		mode = config.SplitModeAware
	}
	return &Interpreter{splitMode: mode, stripFences: cfg.StripCodeFences}
}

// Interpret never fails. A reply that is not a JSON object goes through
// per-field recovery, where each field falls back to its default on its own.
func (in *Interpreter) Interpret(raw string) Outcome {
	text := raw
	if in.stripFences {
		text = stripCodeFences(raw)
	}

	if out, ok := parseStrict(text); ok {
		return out
	}
	if in.splitMode == config.SplitModeLegacy {
		return recoverFields(text, legacyExtractors)
	}
	return recoverFields(text, awareExtractors)
}

// score accepts a JSON string or number. Numbers keep their literal text.
type score string

func (s *score) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = score(str)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*s = score(n.String())
	return nil
}

type strictReply struct {
	MatchScore       *score             `json:"match_score"`
	Recommendations  *[]string          `json:"recommendations"`
	RewrittenBullets *map[string]string `json:"rewritten_bullets"`
	Summary          *string            `json:"summary"`
}

func parseStrict(text string) (Outcome, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") {
		return Outcome{}, false
	}

	var reply strictReply
	if err := json.Unmarshal([]byte(trimmed), &reply); err != nil {
		return Outcome{}, false
	}

	out := Outcome{Report: types.NewDefaultReport(), Strict: true}
	if reply.MatchScore != nil {
		out.Report.MatchScore = string(*reply.MatchScore)
	} else {
		out.Defaulted = append(out.Defaulted, FieldMatchScore)
	}
	if reply.Recommendations != nil && *reply.Recommendations != nil {
		out.Report.Recommendations = *reply.Recommendations
	} else {
		out.Defaulted = append(out.Defaulted, FieldRecommendations)
	}
	if reply.RewrittenBullets != nil && *reply.RewrittenBullets != nil {
		out.Report.RewrittenBullets = *reply.RewrittenBullets
	} else {
		out.Defaulted = append(out.Defaulted, FieldRewrittenBullets)
	}
	if reply.Summary != nil {
		out.Report.Summary = *reply.Summary
	} else {
		out.Defaulted = append(out.Defaulted, FieldSummary)
	}
	return out, true
}

// extractors recovers each field independently. ok is false when the field
// could not be located.
type extractors struct {
	matchScore       func(string) (string, bool)
	recommendations  func(string) ([]string, bool)
	rewrittenBullets func(string) (map[string]string, bool)
	summary          func(string) (string, bool)
}

func recoverFields(text string, ex extractors) Outcome {
	out := Outcome{Report: types.NewDefaultReport()}

	if v, ok := ex.matchScore(text); ok && v != "" {
		out.Report.MatchScore = v
	} else {
		out.Defaulted = append(out.Defaulted, FieldMatchScore)
	}
	if v, ok := ex.recommendations(text); ok {
		out.Report.Recommendations = v
	} else {
		out.Defaulted = append(out.Defaulted, FieldRecommendations)
	}
	if v, ok := ex.rewrittenBullets(text); ok {
		out.Report.RewrittenBullets = v
	} else {
		out.Defaulted = append(out.Defaulted, FieldRewrittenBullets)
	}
	if v, ok := ex.summary(text); ok && v != "" {
		out.Report.Summary = v
	} else {
		out.Defaulted = append(out.Defaulted, FieldSummary)
	}
	return out
}

var (
	legacyScorePattern   = regexp.MustCompile(`"match_score"\s*:\s*(\d+|".*?")`)
	legacyListPattern    = regexp.MustCompile(`(?s)"recommendations"\s*:\s*\[(.*?)\]`)
	legacyBulletsPattern = regexp.MustCompile(`(?s)"rewritten_bullets"\s*:\s*\{(.*?)\}`)
	legacySummaryPattern = regexp.MustCompile(`(?s)"summary"\s*:\s*"(.*?)"`)
	awareScorePattern    = regexp.MustCompile(`"match_score"\s*:\s*(\d+(?:\.\d+)?|"(?:[^"\\]|\\.)*")`)
	awareListLabel       = regexp.MustCompile(`"recommendations"\s*:\s*\[`)
	awareBulletsLabel    = regexp.MustCompile(`"rewritten_bullets"\s*:\s*\{`)
	awareSummaryLabel    = regexp.MustCompile(`"summary"\s*:\s*"`)
	legacyExtractors     = extractors{legacyScore, legacyList, legacyBullets, legacySummary}
	awareExtractors      = extractors{awareScore, awareList, awareBullets, awareSummary}
)

// Legacy extraction splits on every comma and colon, so values containing
// either are fragmented.

func legacyScore(text string) (string, bool) {
	m := legacyScorePattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return stripQuotes(m[1]), true
}

func legacyList(text string) ([]string, bool) {
	m := legacyListPattern.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	items := []string{}
	for _, part := range strings.Split(m[1], ",") {
		if item := stripQuotes(part); item != "" {
			items = append(items, item)
		}
	}
	return items, true
}

func legacyBullets(text string) (map[string]string, bool) {
	m := legacyBulletsPattern.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	bullets := map[string]string{}
	for _, entry := range strings.Split(m[1], ",") {
		original, rewrite, found := strings.Cut(entry, ":")
		if !found {
			continue
		}
		if key := stripQuotes(original); key != "" {
			bullets[key] = stripQuotes(rewrite)
		}
	}
	return bullets, true
}

func legacySummary(text string) (string, bool) {
	m := legacySummaryPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func awareScore(text string) (string, bool) {
	m := awareScorePattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return unquoteLoose(m[1]), true
}

func awareList(text string) ([]string, bool) {
	loc := awareListLabel.FindStringIndex(text)
	if loc == nil {
		return nil, false
	}
	body, _, ok := scanDelimited(text, loc[1]-1)
	if !ok {
		return nil, false
	}
	items := []string{}
	for _, part := range splitTopLevel(body, ',') {
		if item := unquoteLoose(part); item != "" {
			items = append(items, item)
		}
	}
	return items, true
}

func awareBullets(text string) (map[string]string, bool) {
	loc := awareBulletsLabel.FindStringIndex(text)
	if loc == nil {
		return nil, false
	}
	body, _, ok := scanDelimited(text, loc[1]-1)
	if !ok {
		return nil, false
	}
	bullets := map[string]string{}
	for _, entry := range splitTopLevel(body, ',') {
		original, rewrite, found := cutTopLevel(entry, ':')
		if !found {
			continue
		}
		if key := unquoteLoose(original); key != "" {
			bullets[key] = unquoteLoose(rewrite)
		}
	}
	return bullets, true
}

func awareSummary(text string) (string, bool) {
	loc := awareSummaryLabel.FindStringIndex(text)
	if loc == nil {
		return "", false
	}
	value, _, ok := scanString(text, loc[1]-1)
	return value, ok
}

// stripCodeFences unwraps a reply fenced as a markdown code block. Other
// text is returned unchanged.
func stripCodeFences(raw string) string {
	clean := strings.TrimSpace(raw)
	if !strings.HasPrefix(clean, "```") {
		return raw
	}
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimLeftFunc(clean, unicode.IsLetter)
	clean = strings.TrimSuffix(strings.TrimSpace(clean), "```")
	return strings.TrimSpace(clean)
}
