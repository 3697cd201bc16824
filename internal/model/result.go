package model

import (
	"strconv"
	"strings"
	"time"
)

// Fixed answer tokens.
const (
	AnswerYes     = "YES"
	AnswerNo      = "NO"
	AnswerUnknown = "unknown"
	AnswerPaused  = "PAUSED"
	AnswerAborted = "ABORTED"
	AnswerError   = "ERROR"
)

// Confidence is an ordinal estimate of verdict reliability.
type Confidence string

const (
	ConfidenceLow    Confidence = "LOW"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceHigh   Confidence = "HIGH"
)

// Rank maps confidence onto the numeric 1-3 scale.
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	default:
		return 1
	}
}

// ParseConfidence accepts LOW/MEDIUM/HIGH in any case or the numeric 1-3
// scale. Anything else is LOW.
func ParseConfidence(s string) Confidence {
	s = strings.ToUpper(strings.TrimSpace(s))
	switch s {
	case "HIGH", "H":
		return ConfidenceHigh
	case "MEDIUM", "MED", "M", "MODERATE":
		return ConfidenceMedium
	case "LOW", "L":
		return ConfidenceLow
	}
	if n, err := strconv.Atoi(s); err == nil {
		switch {
		case n >= 3:
			return ConfidenceHigh
		case n == 2:
			return ConfidenceMedium
		}
	}
	return ConfidenceLow
}

// ResultStatus describes how an investigation ended.
type ResultStatus string

const (
	StatusComplete   ResultStatus = "complete"
	StatusBestEffort ResultStatus = "best_effort"
	StatusPaused     ResultStatus = "paused"
	StatusAborted    ResultStatus = "aborted"
	StatusCancelled  ResultStatus = "cancelled"
	StatusError      ResultStatus = "error"
)

// ToolCallRecord is one tool invocation made during an investigation.
type ToolCallRecord struct {
	Tool      string    `json:"tool"`
	Query     string    `json:"query"`
	Cached    bool      `json:"cached"`
	IsError   bool      `json:"isError"`
	Error     string    `json:"error,omitempty"`
	Links     []string  `json:"links,omitempty"`
	Cost      float64   `json:"cost"`
	Iteration int       `json:"iteration"`
	At        time.Time `json:"at"`
}

// VerificationStatus is the outcome recorded by the verification pass.
type VerificationStatus string

const (
	VerificationConfirmed    VerificationStatus = "confirmed"
	VerificationContradicted VerificationStatus = "contradicted"
	VerificationInconclusive VerificationStatus = "inconclusive"
	VerificationError        VerificationStatus = "error"
)

// Verification is the sub-record written when the verification pass ran.
type Verification struct {
	Status             VerificationStatus `json:"status"`
	Score              float64            `json:"score"`
	Query              string             `json:"query"`
	Error              string             `json:"error,omitempty"`
	PreviousAnswer     string             `json:"previousAnswer"`
	PreviousConfidence Confidence         `json:"previousConfidence"`
	Cost               float64            `json:"cost"`
}

// Result is the structured outcome of one (entity, criterion) investigation.
type Result struct {
	CriterionID   string           `json:"criterionId"`
	EntityID      string           `json:"entityId,omitempty"`
	Answer        string           `json:"answer"`
	Explanation   string           `json:"explanation,omitempty"`
	Evidence      string           `json:"evidence,omitempty"`
	Sources       string           `json:"sources,omitempty"`
	Confidence    Confidence       `json:"confidence"`
	Iterations    int              `json:"iterations"`
	ToolCalls     []ToolCallRecord `json:"toolCalls"`
	TokenUsage    TokenUsage       `json:"tokenUsage"`
	CostBreakdown CostBreakdown    `json:"costBreakdown"`
	Timestamp     time.Time        `json:"timestamp"`
	Verified      bool             `json:"verified"`
	Verification  *Verification    `json:"verification,omitempty"`
	Status        ResultStatus     `json:"status"`
	Error         string           `json:"error,omitempty"`
}

// IsUnknown reports whether the answer is the unknown sentinel.
func (r Result) IsUnknown() bool {
	return strings.EqualFold(strings.TrimSpace(r.Answer), AnswerUnknown)
}

// Terminal reports whether the result ended the investigation normally,
// i.e. it carries a verdict rather than a pause or abort marker.
func (r Result) Terminal() bool {
	return r.Status == StatusComplete || r.Status == StatusBestEffort
}
