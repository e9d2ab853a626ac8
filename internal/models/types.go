package models

import "time"

// Demographics is what a user submits before analysis. It is only ever
// persisted encrypted; Email in particular never leaves the session store.
type Demographics struct {
	AgeRange  string `json:"ageRange"`
	Gender    string `json:"gender"`
	Ethnicity string `json:"ethnicity"`
	Language  string `json:"language"`
	Country   string `json:"country"`
	State     string `json:"state,omitempty"`
	City      string `json:"city,omitempty"`
	Email     string `json:"email,omitempty"`

	// ContactConsent opts the email into the admin contact list.
	ContactConsent bool `json:"contactConsent,omitempty"`
}

// Lab value status relative to its reference range.
const (
	StatusLow     = "low"
	StatusNormal  = "normal"
	StatusHigh    = "high"
	StatusUnknown = "unknown"
)

// LabValue is one test parsed out of a report.
type LabValue struct {
	Test    string  `json:"test"`
	Value   string  `json:"value"`
	Unit    string  `json:"unit,omitempty"`
	Status  string  `json:"status"`
	RefLow  float64 `json:"ref_low,omitempty"`
	RefHigh float64 `json:"ref_high,omitempty"`
}

// Condition is a flagged finding derived from an out-of-range value.
type Condition struct {
	Name     string `json:"condition"`
	Severity string `json:"severity"`
	TestName string `json:"testName"`
	Value    string `json:"value"`
	Unit     string `json:"unit,omitempty"`
}

// AnalysisResult is the payload stored as the session's lab results.
type AnalysisResult struct {
	Language     string      `json:"language"`
	Values       []LabValue  `json:"values"`
	Conditions   []Condition `json:"conditions"`
	Summary      string      `json:"summary"`
	ScrubbedText string      `json:"scrubbed_text,omitempty"`
	AnalyzedAt   time.Time   `json:"analyzed_at"`
}

// ConditionRecord is the de-identified copy of a result used for admin
// aggregation. It carries the analytics hash, never the email.
type ConditionRecord struct {
	ID            string      `json:"id"`
	AnalyticsHash string      `json:"analytics_hash"`
	AgeRange      string      `json:"ageRange,omitempty"`
	Gender        string      `json:"gender,omitempty"`
	Ethnicity     string      `json:"ethnicity,omitempty"`
	Language      string      `json:"language,omitempty"`
	Country       string      `json:"country,omitempty"`
	State         string      `json:"state,omitempty"`
	City          string      `json:"city,omitempty"`
	Conditions    []Condition `json:"conditions"`
	Returning     bool        `json:"returning"`
	ReportedAt    time.Time   `json:"reported_at"`
}

// Feedback question kinds.
const (
	QuestionRating   = "rating"
	QuestionMultiple = "multiple"
	QuestionText     = "text"
)

type FeedbackQuestion struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
	Required bool     `json:"required"`
	Order    int      `json:"order"`
}

type FeedbackResponse struct {
	ID            string         `json:"id"`
	AnalyticsHash string         `json:"analytics_hash,omitempty"`
	Language      string         `json:"language,omitempty"`
	Answers       map[string]any `json:"answers"`
	SubmittedAt   time.Time      `json:"submitted_at"`
}

// User is an admin account.
type User struct {
	ID        string
	Email     string
	PassHash  []byte
	CreatedAt time.Time
}

type AuditEntry struct {
	Time   time.Time `json:"time"`
	Actor  string    `json:"actor"`
	Action string    `json:"action"`
	Target string    `json:"target"`
	Note   string    `json:"note,omitempty"`
}

// ContactRecord is a consented contact as persisted: the email only as an
// envelope sealed under the server contact key.
type ContactRecord struct {
	AnalyticsHash string
	EmailEnvelope string
	Language      string
	ConsentedAt   time.Time
	LastReportAt  time.Time
	Reports       int
}

// Contact is a decrypted contact for the admin list.
type Contact struct {
	AnalyticsHash string     `json:"analytics_hash"`
	Email         string     `json:"email"`
	Language      string     `json:"language,omitempty"`
	ConsentedAt   time.Time  `json:"consented_at"`
	LastReportAt  *time.Time `json:"last_report_at,omitempty"`
	Reports       int        `json:"reports"`
}

// Campaign is an admin message to consented contacts. Only the record is
// kept; delivery is handled outside the service.
type Campaign struct {
	ID         string    `json:"id"`
	Subject    string    `json:"subject"`
	Message    string    `json:"message"`
	Recipients int       `json:"recipients"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
}
