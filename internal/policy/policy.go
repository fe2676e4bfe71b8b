// Package policy decides whether a tool call may run, and whether it needs a
// human to approve it first.
package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/vinayprograms/agentkit/logging"
)

// Risk grades how dangerous a call is.
type Risk string

const (
	RiskNone   Risk = ""
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// Rank orders risks so the highest seen can be kept.
func (r Risk) Rank() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	}
	return 0
}

// ParseRisk normalises a configured risk name.
func ParseRisk(s string) (Risk, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return RiskNone, nil
	case "low":
		return RiskLow, nil
	case "medium":
		return RiskMedium, nil
	case "high":
		return RiskHigh, nil
	}
	return RiskNone, fmt.Errorf("unknown risk level %q", s)
}

// Context travels through every stage. Params may be rewritten by a stage
// and later stages see the rewrite.
type Context struct {
	ToolName         string
	Params           map[string]interface{}
	SessionID        string
	RequiresApproval bool
	Risk             Risk
	RiskReason       string
	Warnings         []string
}

// StageResult is what a single stage decides.
type StageResult struct {
	Allowed          bool
	RequiresApproval bool
	Reason           string
	ModifiedParams   map[string]interface{}
	Warnings         []string
	Risk             Risk
}

// Allow is the neutral stage outcome.
func Allow() StageResult { return StageResult{Allowed: true} }

// Block stops the pipeline.
func Block(reason string) StageResult { return StageResult{Allowed: false, Reason: reason} }

// Stage is one step of the pipeline.
type Stage interface {
	Name() string
	Evaluate(ctx context.Context, pc *Context) StageResult
}

// Result is the pipeline's verdict.
type Result struct {
	Allowed          bool
	RequiresApproval bool
	BlockedBy        string
	Reason           string
	Params           map[string]interface{}
	Warnings         []string
	Risk             Risk
	RiskReason       string
}

// Pipeline runs stages in order and stops at the first block.
type Pipeline struct {
	stages []Stage
	logger *logging.Logger
}

// NewPipeline builds a pipeline from stages in evaluation order.
func NewPipeline(stages ...Stage) *Pipeline {
	return &Pipeline{
		stages: stages,
		logger: logging.New().WithComponent("policy"),
	}
}

// Stages returns stage names in order.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// Evaluate runs the pipeline for one call.
func (p *Pipeline) Evaluate(ctx context.Context, tool string, params map[string]interface{}, sessionID string) Result {
	pc := &Context{
		ToolName:  tool,
		Params:    copyParams(params),
		SessionID: sessionID,
	}

	for _, stage := range p.stages {
		sr := stage.Evaluate(ctx, pc)
		pc.Warnings = append(pc.Warnings, sr.Warnings...)
		if !sr.Allowed {
			p.logger.Warn("tool call blocked", map[string]interface{}{
				"tool":   tool,
				"stage":  stage.Name(),
				"reason": sr.Reason,
			})
			return Result{
				Allowed:    false,
				BlockedBy:  stage.Name(),
				Reason:     sr.Reason,
				Params:     pc.Params,
				Warnings:   pc.Warnings,
				Risk:       maxRisk(pc.Risk, sr.Risk),
				RiskReason: pc.RiskReason,
			}
		}
		if sr.ModifiedParams != nil {
			pc.Params = sr.ModifiedParams
		}
		if sr.RequiresApproval {
			pc.RequiresApproval = true
			if pc.RiskReason == "" && sr.Reason != "" {
				pc.RiskReason = sr.Reason
			}
		}
		if sr.Risk.Rank() > pc.Risk.Rank() {
			pc.Risk = sr.Risk
			if sr.Reason != "" {
				pc.RiskReason = sr.Reason
			}
		}
	}

	return Result{
		Allowed:          true,
		RequiresApproval: pc.RequiresApproval,
		Params:           pc.Params,
		Warnings:         pc.Warnings,
		Risk:             pc.Risk,
		RiskReason:       pc.RiskReason,
	}
}

func maxRisk(a, b Risk) Risk {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

func copyParams(params map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
