package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/research-agent/internal/events"
	"github.com/sells-group/research-agent/internal/investigate"
)

// terminalApprover asks on the terminal before every tool call. An empty
// line or "y" approves, "n" declines, and any other text replaces the
// query.
type terminalApprover struct {
	in  io.Reader
	out io.Writer
	mu  sync.Mutex

	start sync.Once
	lines chan lineResult
}

func newTerminalApprover(in io.Reader, out io.Writer) *terminalApprover {
	return &terminalApprover{in: in, out: out, lines: make(chan lineResult)}
}

type lineResult struct {
	line string
	err  error
}

// readLines is the only reader of in. A cancelled prompt leaves it blocked
// on the read; the next prompt receives that line. The channel closes after
// the first read error.
func (a *terminalApprover) readLines() {
	defer close(a.lines)
	r := bufio.NewReader(a.in)
	for {
		line, err := r.ReadString('\n')
		a.lines <- lineResult{line: line, err: err}
		if err != nil {
			return
		}
	}
}

// Approve implements investigate.Approver.
func (a *terminalApprover) Approve(ctx context.Context, req investigate.ApprovalRequest) (investigate.Decision, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.start.Do(func() { go a.readLines() })

	_, _ = fmt.Fprintf(a.out, "\n[%s / %s] %s wants to run: %q\n", req.EntityName, req.CriterionID, req.Tool, req.Query)
	_, _ = fmt.Fprint(a.out, "Approve? [Y/n or type a replacement query]: ")

	select {
	case <-ctx.Done():
		return investigate.Decision{}, ctx.Err()
	case res, ok := <-a.lines:
		if !ok || (res.err != nil && res.line == "") {
			// EOF declines.
			return investigate.Decision{Approved: false}, nil
		}
		return parseDecision(res.line), nil
	}
}

func parseDecision(line string) investigate.Decision {
	answer := strings.TrimSpace(line)
	switch strings.ToLower(answer) {
	case "", "y", "yes":
		return investigate.Decision{Approved: true}
	case "n", "no":
		return investigate.Decision{Approved: false}
	default:
		return investigate.Decision{Approved: true, Query: answer}
	}
}

// logProgress reports batch progress through the global logger.
var logProgress = events.SinkFunc(func(e events.Event) {
	fields := []zap.Field{zap.String("type", string(e.Type))}
	if e.InvestigationID != "" {
		fields = append(fields, zap.String("investigation_id", e.InvestigationID))
	}
	if e.EntityName != "" {
		fields = append(fields, zap.String("entity", e.EntityName))
	}
	if e.CriterionID != "" {
		fields = append(fields, zap.String("criterion", e.CriterionID))
	}
	if e.Progress != nil {
		fields = append(fields, zap.Int("completed", e.Progress.Completed), zap.Int("total", e.Progress.Total))
	}

	switch e.Type {
	case events.TypeToolRequest:
		zap.L().Info("tool request", append(fields, zap.String("tool", e.Tool), zap.String("query", e.Query))...)
	case events.TypeToolResult:
		zap.L().Debug("tool result", append(fields, zap.String("tool", e.Tool), zap.Bool("cached", e.Cached))...)
	case events.TypeFinalResult:
		if e.Result != nil {
			fields = append(fields,
				zap.String("answer", e.Result.Answer),
				zap.String("confidence", string(e.Result.Confidence)),
				zap.String("status", string(e.Result.Status)),
			)
		}
		zap.L().Info("result", fields...)
	case events.TypeResearchError:
		zap.L().Warn("research error", append(fields, zap.String("error", e.Error))...)
	case events.TypeModelResponse, events.TypeCompanyStart:
		zap.L().Debug("progress", fields...)
	default:
		zap.L().Info("progress", append(fields, zap.String("reason", e.Reason))...)
	}
})
