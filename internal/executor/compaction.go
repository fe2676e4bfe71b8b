package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/vinayprograms/agentkit/llm"
)

const elisionMarker = "\n[... %d tokens elided ...]\n"

// maybeCompact shrinks tracked output once the estimate passes the warn
// threshold. Passes run in order and stop as soon as the estimate is back
// under the threshold: truncate oversized outputs, summarize through the
// oracle, then keep only the most recent outputs.
func (e *Executor) maybeCompact(ctx context.Context, st *State) {
	limit := e.cfg.WarnTokens
	if limit <= 0 || st.ContextTokens <= limit {
		return
	}
	before := st.ContextTokens

	for pass := 1; pass <= 3 && st.ContextTokens > limit; pass++ {
		switch pass {
		case 1:
			for i := range st.Executed {
				st.Executed[i].Output = e.truncateOutput(st.Executed[i].Output, e.cfg.TruncateTokens)
			}
		case 2:
			if err := e.summarize(ctx, st); err != nil {
				e.logger.Warn("context summarization failed", map[string]interface{}{"error": err.Error()})
			}
		case 3:
			if float64(st.ContextTokens) > 1.5*float64(limit) {
				st.keepRecentOutputs(3)
			}
		}
		st.ContextTokens = e.stateTokens(st)
	}

	e.logger.Info("context compacted", map[string]interface{}{
		"before": before,
		"after":  st.ContextTokens,
		"limit":  limit,
	})
}

// truncateOutput keeps the head and tail of s, cut at whitespace, when s
// is estimated above maxTokens.
func (e *Executor) truncateOutput(s string, maxTokens int) string {
	total := e.estimator.Estimate(s)
	if maxTokens <= 0 || total <= maxTokens {
		return s
	}
	// Runes per token for this particular text.
	runes := []rune(s)
	ratio := float64(len(runes)) / float64(total)
	keep := int(float64(maxTokens) * ratio / 2)
	if keep <= 0 {
		return fmt.Sprintf(elisionMarker, total)
	}

	head := string(runes[:keep])
	if i := strings.LastIndexAny(head, " \n\t"); i > 0 {
		head = head[:i]
	}
	tail := string(runes[len(runes)-keep:])
	if i := strings.IndexAny(tail, " \n\t"); i >= 0 && i < len(tail)-1 {
		tail = tail[i+1:]
	}
	elided := total - e.estimator.Estimate(head) - e.estimator.Estimate(tail)
	return head + fmt.Sprintf(elisionMarker, elided) + tail
}

// summarize replaces all but the latest output with an oracle summary.
func (e *Executor) summarize(ctx context.Context, st *State) error {
	if len(st.Executed) < 2 {
		return nil
	}
	older := st.Executed[:len(st.Executed)-1]

	var b strings.Builder
	if st.Summary != "" {
		b.WriteString("<previous-summary>\n" + st.Summary + "\n</previous-summary>\n")
	}
	for _, tr := range older {
		fmt.Fprintf(&b, "<task id=%q skill=%q success=\"%t\">\n%s\n</task>\n", tr.TaskID, tr.Skill, tr.Success, outputOrError(tr))
	}

	resp, err := e.provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: "Summarize the task results below. Keep facts, identifiers, paths and errors the next steps may need. Be brief."},
			{Role: "user", Content: b.String()},
		},
	})
	if err != nil {
		return err
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return fmt.Errorf("empty summary")
	}
	st.Summary = summary
	for i := range older {
		older[i].Output = ""
		older[i].Compacted = true
	}
	return nil
}

// stateTokens recomputes the running estimate from tracked text.
func (e *Executor) stateTokens(st *State) int {
	n := e.estimator.Estimate(st.Summary)
	for _, tr := range st.Executed {
		n += e.estimator.Estimate(tr.Output) + e.estimator.Estimate(tr.Error)
	}
	return n
}

func outputOrError(tr TaskResult) string {
	if tr.Success {
		return tr.Output
	}
	if tr.Output != "" {
		return tr.Error + "\n" + tr.Output
	}
	return tr.Error
}
