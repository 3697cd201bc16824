// Package verify re-checks low-confidence verdicts with one confirmation
// query and adjusts the answer from a scored reading of the result.
package verify

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/research-agent/internal/metrics"
	"github.com/sells-group/research-agent/internal/model"
	"github.com/sells-group/research-agent/internal/prompt"
	"github.com/sells-group/research-agent/internal/verdict"
)

// Score thresholds.
const (
	ConfirmThreshold    = 0.7
	ContradictThreshold = 0.2
)

// Executor runs one tool request. tools.Executor satisfies it.
type Executor interface {
	Execute(ctx context.Context, name, query string) model.ToolResult
}

// Verifier runs the verification pass.
type Verifier struct {
	exec Executor
	tool string
}

// New creates a verifier that sends confirmation queries to tool.
func New(exec Executor, tool string) *Verifier {
	return &Verifier{exec: exec, tool: tool}
}

// Applies reports whether a result is eligible for verification.
func Applies(r model.Result) bool {
	return r.Terminal() &&
		!r.IsUnknown() &&
		r.Answer != model.AnswerError &&
		r.Confidence.Rank() < model.ConfidenceHigh.Rank()
}

// Verify runs one confirmation query and returns the adjusted result.
// Verified is always set, including when the tool fails.
func (v *Verifier) Verify(ctx context.Context, entity model.Entity, c model.Criterion, r model.Result) model.Result {
	query := Query(entity, c, r.Answer)
	rec := &model.Verification{
		Query:              query,
		PreviousAnswer:     r.Answer,
		PreviousConfidence: r.Confidence,
	}
	r.Verified = true
	r.Verification = rec

	res := v.exec.Execute(ctx, v.tool, query)
	rec.Cost = res.Cost
	r.CostBreakdown.Add(model.CostBreakdown{Verification: res.Cost})
	r.ToolCalls = append(r.ToolCalls, model.ToolCallRecord{
		Tool:    v.tool,
		Query:   query,
		Cached:  res.Cached,
		IsError: res.IsError,
		Error:   res.Error,
		Links:   res.Links,
		Cost:    res.Cost,
	})
	r.TokenUsage.ToolCalls++

	if res.IsError {
		rec.Status = model.VerificationError
		rec.Error = res.Error
		metrics.Verifications.WithLabelValues(string(rec.Status)).Inc()
		return r
	}

	rec.Score = Score(res.Content, entity, c, r.Answer)
	switch {
	case rec.Score >= ConfirmThreshold:
		rec.Status = model.VerificationConfirmed
		r.Confidence = model.ConfidenceHigh
	case rec.Score >= ContradictThreshold:
		rec.Status = model.VerificationInconclusive
	default:
		rec.Status = contradict(&r, res.Content, c)
	}

	metrics.Verifications.WithLabelValues(string(rec.Status)).Inc()
	zap.L().Debug("verify: scored",
		zap.String("entity", entity.Name),
		zap.String("criterion", c.ID),
		zap.Float64("score", rec.Score),
		zap.String("status", string(rec.Status)),
	)
	return r
}

// contradict applies the low-score policy. A named entity is reset to
// unknown; a yes/no answer flips only when the text clearly says the
// opposite.
func contradict(r *model.Result, text string, c model.Criterion) model.VerificationStatus {
	if c.Kind() == model.KindNamedEntity {
		r.Answer = model.AnswerUnknown
		r.Confidence = model.ConfidenceLow
		return model.VerificationContradicted
	}

	decided, yes := verdict.Polarity(text, c.Positive())
	if !decided {
		return model.VerificationInconclusive
	}
	wasYes := r.Answer == c.Positive()
	if yes == wasYes {
		return model.VerificationInconclusive
	}
	if yes {
		r.Answer = c.Positive()
	} else {
		r.Answer = model.AnswerNo
	}
	return model.VerificationContradicted
}

// Query builds the confirmation query for an answer.
func Query(entity model.Entity, c model.Criterion, answer string) string {
	if c.Kind() == model.KindNamedEntity {
		q := fmt.Sprintf("%q %s of %q %s", answer, strings.ToLower(c.RoleOrDefault()), entity.Name, entity.City)
		return strings.TrimSpace(q)
	}

	question := prompt.RenderQuery(c.Question, entity, nil)
	if !strings.Contains(strings.ToLower(question), strings.ToLower(entity.Name)) {
		question = fmt.Sprintf("%s (%s): %s", entity.Name, entity.Place(), question)
		question = strings.Replace(question, " (): ", ": ", 1)
	}
	return question
}
