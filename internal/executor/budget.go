package executor

import (
	"context"
	"errors"
	"time"

	"github.com/vinayprograms/agentcore/internal/approval"
	"github.com/vinayprograms/agentcore/internal/gate"
	"github.com/vinayprograms/agentcore/internal/sandbox"
	"github.com/vinayprograms/agentcore/internal/schema"
	"github.com/vinayprograms/agentcore/internal/skills"
)

// Config tunes the decision loop.
type Config struct {
	BaseIterations  int           // budget before any error types are seen
	PerErrorType    int           // extra iterations per distinct error type
	MinIterations   int           // lower clamp
	MaxIterations   int           // upper clamp
	WarnTokens      int           // compaction threshold; 0 disables compaction
	TruncateTokens  int           // per-output cap applied by the first compaction pass
	MaxCorrections  int           // parameter repairs per task
	TaskTimeout     time.Duration // per skill run; 0 means none
	RecentTasks     int           // executed tasks shown to the oracle
	RecentToolCalls int           // tool calls shown to the oracle
}

// DefaultConfig returns the stock loop settings.
func DefaultConfig() Config {
	return Config{
		BaseIterations:  24,
		PerErrorType:    8,
		MinIterations:   32,
		MaxIterations:   160,
		WarnTokens:      60000,
		TruncateTokens:  2000,
		MaxCorrections:  3,
		TaskTimeout:     5 * time.Minute,
		RecentTasks:     6,
		RecentToolCalls: 5,
	}
}

// Budget returns the iteration budget for a count of distinct error types.
func (c Config) Budget(errorTypes int) int {
	if errorTypes < 1 {
		errorTypes = 1
	}
	n := c.BaseIterations + c.PerErrorType*errorTypes
	if n < c.MinIterations {
		n = c.MinIterations
	}
	if n > c.MaxIterations {
		n = c.MaxIterations
	}
	return n
}

// MaxIterations is the default budget for errorTypes distinct error types.
func MaxIterations(errorTypes int) int {
	return DefaultConfig().Budget(errorTypes)
}

// Error types reported by ClassifyError.
const (
	ErrTypeValidation   = "param_validation"
	ErrTypeNotFound     = "skill_not_found"
	ErrTypeBlocked      = "policy_blocked"
	ErrTypeDenied       = "approval_denied"
	ErrTypeExpired      = "approval_expired"
	ErrTypeSandbox      = "sandbox_unavailable"
	ErrTypeTimeout      = "timeout"
	ErrTypeCancelled    = "cancelled"
	ErrTypeSkillFailure = "skill_failure"
	ErrTypeInternal     = "internal"
)

// ClassifyError maps an error to one of the ErrType constants.
func ClassifyError(err error) string {
	var ve *schema.ValidationError
	var pe *ParamError
	var se *SkillError
	var blocked *gate.BlockedError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve), errors.As(err, &pe):
		return ErrTypeValidation
	case errors.As(err, &se):
		return ErrTypeSkillFailure
	case errors.Is(err, skills.ErrNotFound):
		return ErrTypeNotFound
	case errors.As(err, &blocked):
		return ErrTypeBlocked
	case errors.Is(err, approval.ErrDenied):
		return ErrTypeDenied
	case errors.Is(err, approval.ErrExpired):
		return ErrTypeExpired
	case errors.Is(err, sandbox.ErrUnavailable):
		return ErrTypeSandbox
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTypeTimeout
	case errors.Is(err, context.Canceled):
		return ErrTypeCancelled
	}
	return ErrTypeInternal
}
