package services

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/soaringjerry/labreport/internal/models"
)

// MaxReportBytes bounds the report text accepted for analysis.
const MaxReportBytes = 1 << 20

type phiRule struct {
	re   *regexp.Regexp
	repl string
}

var phiRules = []phiRule{
	{regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b(?:\+?1[\s\-.]?)?(?:\(?\d{3}\)?[\s\-.]?)\d{3}[\s\-.]?\d{4}\b`), "[REDACTED_PHONE]"},
	{regexp.MustCompile(`(?i)\b(?:MRN|Med(?:ical)?\s*Record\s*No\.?)\s*[:#]?\s*[A-Za-z0-9\-]+\b`), "[REDACTED_MRN]"},
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[REDACTED_SSN]"},
	{regexp.MustCompile(`(?i)\b(?:DOB|Date of Birth)\s*[:\-]?\s*\d{1,2}[/\-]\d{1,2}[/\-]\d{2,4}\b`), "[REDACTED_DOB]"},
	{regexp.MustCompile(`(?i)(?:Patient\s*Name|Name)\s*[:\-]?\s*[A-Z][A-Za-z'\-]+\s+[A-Z][A-Za-z'\-]+`), "Patient [REDACTED_NAME]"},
	{regexp.MustCompile(`(?i)\b(?:Address|Street|Apt|Suite)\b.*`), "[REDACTED_ADDRESS_LINE]"},
}

var (
	runsOfBlanks   = regexp.MustCompile(`[ \t]+`)
	runsOfNewlines = regexp.MustCompile(`\n{3,}`)
)

// ScrubPHI replaces identifiers (emails, phones, record numbers, SSNs, birth
// dates, names, address lines) with redaction markers.
func ScrubPHI(raw string) string {
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	for _, r := range phiRules {
		text = r.re.ReplaceAllString(text, r.repl)
	}
	text = runsOfBlanks.ReplaceAllString(text, " ")
	text = runsOfNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

type labTest struct {
	name string
	re   *regexp.Regexp
	unit string
	low  float64 // 0 means no lower bound
	high float64 // 0 means no upper bound
}

func labPattern(alts string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b(` + alts + `)\s*[:\-]?\s*([0-9]+(?:\.[0-9]+)?)`)
}

var labTests = []labTest{
	{name: "Glucose", re: labPattern(`glucose`), unit: "mg/dL", low: 70, high: 99},
	{name: "HbA1c", re: labPattern(`hba1c|a1c`), unit: "%", low: 4.0, high: 5.6},
	{name: "Hemoglobin", re: labPattern(`hemoglobin|hgb`), unit: "g/dL", low: 12.0, high: 17.5},
	{name: "WBC", re: labPattern(`wbc|white blood cell`), unit: "10^3/uL", low: 4.0, high: 11.0},
	{name: "Platelets", re: labPattern(`platelets|plt`), unit: "10^3/uL", low: 150, high: 450},
	{name: "Creatinine", re: labPattern(`creatinine`), unit: "mg/dL", low: 0.6, high: 1.3},
	{name: "eGFR", re: labPattern(`egfr`), unit: "mL/min/1.73m2", low: 60},
	{name: "LDL", re: labPattern(`ldl`), unit: "mg/dL", high: 99},
	{name: "HDL", re: labPattern(`hdl`), unit: "mg/dL", low: 40},
	{name: "Triglycerides", re: labPattern(`triglycerides|tg`), unit: "mg/dL", high: 149},
}

// ExtractLabValues finds the first reading of each known test. Tests that do
// not appear are returned with an empty value and unknown status.
func ExtractLabValues(text string) []models.LabValue {
	out := make([]models.LabValue, 0, len(labTests))
	for _, t := range labTests {
		v := models.LabValue{Test: t.name, Unit: t.unit, Status: models.StatusUnknown, RefLow: t.low, RefHigh: t.high}
		if m := t.re.FindStringSubmatch(text); m != nil {
			v.Value = m[2]
			v.Status = t.classify(m[2])
		}
		out = append(out, v)
	}
	return out
}

func (t labTest) classify(raw string) string {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return models.StatusUnknown
	}
	switch {
	case t.low > 0 && f < t.low:
		return models.StatusLow
	case t.high > 0 && f > t.high:
		return models.StatusHigh
	default:
		return models.StatusNormal
	}
}

// DeriveConditions turns out-of-range values into flagged conditions.
func DeriveConditions(values []models.LabValue) []models.Condition {
	out := []models.Condition{}
	for _, v := range values {
		if v.Status != models.StatusLow && v.Status != models.StatusHigh {
			continue
		}
		out = append(out, models.Condition{
			Name:     conditionName(v),
			Severity: v.Status,
			TestName: v.Test,
			Value:    v.Value,
			Unit:     v.Unit,
		})
	}
	return out
}

func conditionName(v models.LabValue) string {
	switch {
	case v.Test == "HbA1c" && v.Status == models.StatusHigh:
		if f, err := strconv.ParseFloat(v.Value, 64); err == nil && f >= 6.5 {
			return "Diabetes Range HbA1c"
		}
		return "Pre-diabetes"
	case v.Test == "eGFR" && v.Status == models.StatusLow:
		return "Reduced Kidney Function"
	case v.Status == models.StatusHigh:
		return "High " + v.Test
	default:
		return "Low " + v.Test
	}
}

type Summarizer interface {
	Summarize(ctx context.Context, text, language string) string
}

// ReportService turns raw report text into a scrubbed, parsed result.
type ReportService struct {
	summarizer Summarizer
	now        func() time.Time
}

func NewReportService(summarizer Summarizer) *ReportService {
	return &ReportService{
		summarizer: summarizer,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *ReportService) Analyze(ctx context.Context, text, language string) (*models.AnalysisResult, error) {
	if len(text) > MaxReportBytes {
		return nil, NewInvalidError("report too large")
	}
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "")
	}
	if strings.TrimSpace(text) == "" {
		return nil, NewInvalidError("no readable text in report")
	}
	lang := NormalizeLanguage(language)
	scrubbed := ScrubPHI(text)
	values := ExtractLabValues(scrubbed)
	res := &models.AnalysisResult{
		Language:     lang,
		Values:       values,
		Conditions:   DeriveConditions(values),
		ScrubbedText: scrubbed,
		AnalyzedAt:   s.now(),
	}
	if s.summarizer != nil {
		res.Summary = s.summarizer.Summarize(ctx, scrubbed, lang)
	} else {
		res.Summary = FallbackSummary(scrubbed, lang)
	}
	return res, nil
}
