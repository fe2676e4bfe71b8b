// Package replay renders recorded tool events as a readable timeline.
package replay

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/vinayprograms/agentcore/internal/events"
)

// Replayer formats event timelines.
type Replayer struct {
	output         io.Writer
	verbosity      int // 0=normal, 1=params and results (-v)
	maxContentSize int // 0 = unlimited
}

// ReplayerOption configures a Replayer.
type ReplayerOption func(*Replayer)

// WithMaxContentSize limits how much of a result is printed.
func WithMaxContentSize(size int) ReplayerOption {
	return func(r *Replayer) {
		r.maxContentSize = size
	}
}

// New creates a new Replayer.
func New(output io.Writer, verbosity int, opts ...ReplayerOption) *Replayer {
	r := &Replayer{
		output:         output,
		verbosity:      verbosity,
		maxContentSize: 2 * 1024,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Session is the events of one session in sequence order.
type Session struct {
	ID     string
	Events []events.Event
}

// GroupSessions splits events by session id, keeping first-seen order.
func GroupSessions(evs []events.Event) []Session {
	var out []Session
	idx := make(map[string]int)
	for _, ev := range evs {
		i, ok := idx[ev.SessionID]
		if !ok {
			i = len(out)
			idx[ev.SessionID] = i
			out = append(out, Session{ID: ev.SessionID})
		}
		out[i].Events = append(out[i].Events, ev)
	}
	for i := range out {
		sort.SliceStable(out[i].Events, func(a, b int) bool {
			return out[i].Events[a].Seq < out[i].Events[b].Seq
		})
	}
	return out
}

// ReplayFile loads a JSONL event log and replays every session in it. A
// non-empty sessionID limits output to that session.
func (r *Replayer) ReplayFile(path, sessionID string) error {
	evs, err := events.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load events: %w", err)
	}
	return r.ReplayEvents(evs, sessionID)
}

// ReplayEvents replays already loaded events.
func (r *Replayer) ReplayEvents(evs []events.Event, sessionID string) error {
	sessions := GroupSessions(evs)
	found := false
	for _, sess := range sessions {
		if sessionID != "" && sess.ID != sessionID {
			continue
		}
		found = true
		r.Replay(sess)
	}
	if sessionID != "" && !found {
		return fmt.Errorf("session %s not found", sessionID)
	}
	if !found {
		fmt.Fprintln(r.output, dimStyle.Render("no events recorded"))
	}
	return nil
}

// Replay outputs a formatted timeline of one session.
func (r *Replayer) Replay(sess Session) {
	r.printHeader(sess)
	r.printTimeline(sess)
	r.printSummary(sess)
}

func (r *Replayer) printHeader(sess Session) {
	id := sess.ID
	if id == "" {
		id = "(no session)"
	}
	fmt.Fprintln(r.output)
	fmt.Fprintf(r.output, "%s %s\n", titleStyle.Render("SESSION"), valueStyle.Render(id))
	fmt.Fprintln(r.output, divider)
	if n := len(sess.Events); n > 0 {
		first := sess.Events[0].Timestamp
		fmt.Fprintf(r.output, "%s %s\n", labelStyle.Render("Started:"), valueStyle.Render(first.Format(time.RFC3339)))
		span := sess.Events[n-1].Timestamp.Sub(first)
		fmt.Fprintf(r.output, "%s %s\n", labelStyle.Render("Span:   "), valueStyle.Render(span.Round(time.Millisecond).String()))
	}
	fmt.Fprintln(r.output)
}

func (r *Replayer) printTimeline(sess Session) {
	fmt.Fprintf(r.output, "%s %s\n", titleStyle.Render("TIMELINE"), dimStyle.Render(fmt.Sprintf("(%d events)", len(sess.Events))))
	fmt.Fprintln(r.output, divider)

	var lastTask string
	for i := range sess.Events {
		ev := &sess.Events[i]
		if ev.TaskID != "" && ev.TaskID != lastTask {
			fmt.Fprintf(r.output, "%s %s\n", taskStyle.Render("▸ task"), taskStyle.Render(ev.TaskID))
			lastTask = ev.TaskID
		}
		r.formatEvent(i+1, ev)
	}
}

func (r *Replayer) formatEvent(seq int, ev *events.Event) {
	prefix := fmt.Sprintf("%4d │ %s │ ", seq, ev.Timestamp.Format("15:04:05.000"))
	switch ev.Type {
	case events.TypeToolCall:
		line := toolStyle.Render("→ "+ev.Tool) + dimStyle.Render(" "+argsHint(ev.Params))
		fmt.Fprintln(r.output, dimStyle.Render(prefix)+line)
		if r.verbosity > 0 && len(ev.Params) > 0 {
			r.printArgs(ev.Params)
		}

	case events.TypeToolResult:
		d := dimStyle.Render(fmt.Sprintf(" (%dms)", ev.DurationMs))
		if ev.Success != nil && *ev.Success {
			fmt.Fprintln(r.output, dimStyle.Render(prefix)+successStyle.Render("✓ "+ev.Tool)+d)
			if r.verbosity > 0 && ev.Result != "" {
				r.printContent(ev.Result)
			}
			return
		}
		fmt.Fprintln(r.output, dimStyle.Render(prefix)+errorStyle.Render("✗ "+ev.Tool)+d)
		if ev.Error != "" {
			r.printError(ev.Error)
		}

	default:
		fmt.Fprintln(r.output, dimStyle.Render(prefix)+warnStyle.Render(ev.Type+" "+ev.Tool))
	}
}

func (r *Replayer) printSummary(sess Session) {
	fmt.Fprintln(r.output)
	fmt.Fprintln(r.output, divider)
	stats := ComputeStats(sess.Events)
	switch {
	case stats.Pending > 0:
		fmt.Fprintln(r.output, warnStyle.Render(fmt.Sprintf("INCOMPLETE (%d calls without a result)", stats.Pending)))
	case stats.Failures > 0:
		fmt.Fprintln(r.output, errorStyle.Render(fmt.Sprintf("COMPLETED WITH %d FAILED CALLS", stats.Failures)))
	default:
		fmt.Fprintln(r.output, successStyle.Render("COMPLETED"))
	}
	PrintStats(r.output, stats)
}

func (r *Replayer) printArgs(args map[string]interface{}) {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(r.output, "%s%s %v\n", indent, labelStyle.Render(k+":"), args[k])
	}
}

func (r *Replayer) printContent(content string) {
	content = truncateContent(content, r.maxContentSize)
	for _, line := range strings.Split(strings.TrimRight(content, "\n"), "\n") {
		fmt.Fprintln(r.output, indent+dimStyle.Render(line))
	}
}

func (r *Replayer) printError(err string) {
	fmt.Fprintln(r.output, indent+errorStyle.Render(truncateContent(err, r.maxContentSize)))
}

// argsHint shows the most telling parameter of a call.
func argsHint(params map[string]interface{}) string {
	for _, k := range []string{"command", "action", "path", "name", "id"} {
		if v, ok := params[k]; ok {
			return truncateHint(fmt.Sprintf("%v", v), 60)
		}
	}
	return ""
}

func truncateHint(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func truncateContent(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + fmt.Sprintf("\n... (%d more bytes)", len(s)-maxLen)
}

