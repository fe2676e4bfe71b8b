// Package gate authorizes every tool call: policy first, then human
// approval when policy asks for it.
package gate

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/vinayprograms/agentkit/logging"

	"github.com/vinayprograms/agentcore/internal/approval"
	"github.com/vinayprograms/agentcore/internal/policy"
)

// BlockedError is returned when a policy stage refuses a call.
type BlockedError struct {
	Tool   string
	Stage  string
	Reason string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("tool %s blocked by %s: %s", e.Tool, e.Stage, e.Reason)
}

// Evaluator is satisfied by *policy.Pipeline and *policy.Watcher.
type Evaluator interface {
	Evaluate(ctx context.Context, tool string, params map[string]interface{}, sessionID string) policy.Result
}

// Authorization is what the caller may run.
type Authorization struct {
	Params     map[string]interface{}
	Warnings   []string
	Risk       policy.Risk
	ApprovalID string
	ApprovedBy string
}

// Gate combines a policy evaluator with an approval manager.
type Gate struct {
	policy    Evaluator
	approvals *approval.Manager
	logger    *logging.Logger
}

// New builds a gate. A nil approval manager treats every approval as granted.
func New(p Evaluator, a *approval.Manager) *Gate {
	return &Gate{
		policy:    p,
		approvals: a,
		logger:    logging.New().WithComponent("gate"),
	}
}

// Authorize returns the parameters to run with, or a *BlockedError,
// approval.ErrDenied or approval.ErrExpired.
func (g *Gate) Authorize(ctx context.Context, tool string, params map[string]interface{}, sessionID string) (*Authorization, error) {
	res := g.policy.Evaluate(ctx, tool, params, sessionID)
	if !res.Allowed {
		return nil, &BlockedError{Tool: tool, Stage: res.BlockedBy, Reason: res.Reason}
	}
	auth := &Authorization{Params: res.Params, Warnings: res.Warnings, Risk: res.Risk}
	if !res.RequiresApproval || g.approvals == nil {
		return auth, nil
	}

	resolution := g.approvals.Request(ctx, approval.Request{
		Tool:      tool,
		Operation: Summarize(tool, res.Params),
		Params:    res.Params,
		Risk:      res.Risk,
		Message:   res.RiskReason,
		SessionID: sessionID,
	})
	auth.ApprovalID = resolution.Request.ID
	auth.ApprovedBy = resolution.ResolvedBy
	if err := resolution.Err(); err != nil {
		g.logger.Warn("tool call not approved", map[string]interface{}{
			"tool":   tool,
			"status": string(resolution.Status),
			"id":     resolution.Request.ID,
		})
		return nil, err
	}
	return auth, nil
}

// Summarize renders a one-line description of a call for reviewers and
// auto-approve patterns, e.g. "exec: git status".
func Summarize(tool string, params map[string]interface{}) string {
	for _, k := range []string{"command", "cmd", "path", "file", "url"} {
		v, ok := params[k]
		if !ok {
			continue
		}
		s := fmt.Sprint(v)
		if args, ok := params["args"].([]interface{}); ok && k == "command" {
			for _, a := range args {
				s += " " + fmt.Sprint(a)
			}
		}
		return tool + ": " + s
	}
	if argv, ok := params["argv"].([]interface{}); ok && len(argv) > 0 {
		parts := make([]string, len(argv))
		for i, a := range argv {
			parts[i] = fmt.Sprint(a)
		}
		return tool + ": " + strings.Join(parts, " ")
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, params[k]))
	}
	return tool + ": " + strings.Join(parts, " ")
}
