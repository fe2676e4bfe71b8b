package policy

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Target names which parameters a sensitive rule inspects.
type Target string

const (
	TargetCommand Target = "command"
	TargetPath    Target = "path"
	TargetURL     Target = "url"
)

var targetParams = map[Target][]string{
	TargetCommand: {"command", "cmd", "script"},
	TargetPath:    {"path", "file", "file_path", "target", "dest", "destination"},
	TargetURL:     {"url", "uri", "endpoint"},
}

// SensitiveRule flags a parameter value that matches Pattern.
type SensitiveRule struct {
	Target  Target
	Pattern *regexp.Regexp
	Risk    Risk
	Reason  string
}

// DefaultSensitiveRules is ordered most-specific first.
func DefaultSensitiveRules() []SensitiveRule {
	r := func(t Target, pat string, risk Risk, reason string) SensitiveRule {
		return SensitiveRule{Target: t, Pattern: regexp.MustCompile(pat), Risk: risk, Reason: reason}
	}
	return []SensitiveRule{
		r(TargetCommand, `\brm\s+(-[a-zA-Z]*[rf][a-zA-Z]*\s+)+(/|~|\*|\$HOME)(\s|$)`, RiskHigh, "recursive delete of a root or home directory"),
		r(TargetCommand, `\bmkfs(\.\w+)?\b|\bdd\s+.*\bof=/dev/`, RiskHigh, "writes to a block device"),
		r(TargetCommand, `:\(\)\s*\{\s*:\|:&\s*\};:`, RiskHigh, "fork bomb"),
		r(TargetCommand, `\b(curl|wget)\b[^|]*\|\s*(ba|z)?sh\b`, RiskHigh, "pipes a download into a shell"),
		r(TargetCommand, `\b(shutdown|reboot|halt|poweroff)\b`, RiskHigh, "stops the host"),
		r(TargetCommand, `\bsudo\b|\bsu\s+-`, RiskHigh, "privilege escalation"),
		r(TargetCommand, `\bchmod\s+(-R\s+)?0?777\b`, RiskMedium, "makes files world-writable"),
		r(TargetCommand, `\bgit\s+push\b.*(--force|-f)\b`, RiskMedium, "force push"),
		r(TargetCommand, `\b(rm|rmdir)\b`, RiskMedium, "deletes files"),
		r(TargetCommand, `\b(kill|pkill|killall)\b`, RiskMedium, "signals other processes"),
		r(TargetCommand, `\b(curl|wget|nc|ssh|scp)\b`, RiskLow, "network access"),
		r(TargetPath, `(^|/)\.ssh(/|$)|(^|/)\.aws(/|$)|(^|/)\.gnupg(/|$)`, RiskHigh, "credential directory"),
		r(TargetPath, `^/(etc|boot|sys|proc|dev)(/|$)`, RiskHigh, "system directory"),
		r(TargetPath, `(^|/)\.env(\.|$)|\.pem$|\.key$|id_rsa`, RiskMedium, "secret material"),
		r(TargetURL, `^https?://(localhost|127\.|10\.|192\.168\.|169\.254\.)`, RiskMedium, "internal network address"),
		r(TargetURL, `^(file|ftp)://`, RiskMedium, "non-http scheme"),
	}
}

// Sensitive tags risky calls. The first matching rule wins. Medium and high
// risk require approval; low risk only adds a warning.
type Sensitive struct {
	Rules []SensitiveRule
}

func (s *Sensitive) Name() string { return "sensitive" }

func (s *Sensitive) Evaluate(_ context.Context, pc *Context) StageResult {
	for _, rule := range s.Rules {
		for _, v := range paramValues(pc.Params, rule.Target) {
			if !rule.Pattern.MatchString(v) {
				continue
			}
			res := StageResult{Allowed: true, Risk: rule.Risk, Reason: rule.Reason}
			if rule.Risk.Rank() >= RiskMedium.Rank() {
				res.RequiresApproval = true
			}
			res.Warnings = []string{fmt.Sprintf("%s risk: %s", rule.Risk, rule.Reason)}
			return res
		}
	}
	return Allow()
}

func paramValues(params map[string]interface{}, t Target) []string {
	var out []string
	for _, name := range targetParams[t] {
		v, ok := params[name]
		if !ok || v == nil {
			continue
		}
		out = append(out, fmt.Sprint(v))
	}
	if t == TargetCommand {
		if argv := stringSlice(params["argv"]); len(argv) > 0 {
			out = append(out, strings.Join(argv, " "))
		}
		if cmd, ok := params["command"].(string); ok {
			if args := stringSlice(params["args"]); len(args) > 0 {
				out = append(out, cmd+" "+strings.Join(args, " "))
			}
		}
	}
	return out
}

func stringSlice(v interface{}) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []interface{}:
		out := make([]string, 0, len(s))
		for _, item := range s {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}
