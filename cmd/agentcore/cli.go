// Package main defines the CLI structure using kong.
package main

import (
	"time"

	"github.com/alecthomas/kong"
)

// Globals are flags shared by every command.
type Globals struct {
	Config string `short:"c" help:"Config file path (default: ./agentcore.toml)" type:"path"`
	Debug  bool   `help:"Log tool arguments and decision prompts"`
}

// CLI defines the command-line interface.
type CLI struct {
	Globals

	Run     RunCmd     `cmd:"" help:"Run the decision loop toward a goal"`
	Exec    ExecCmd    `cmd:"" help:"Run one command through the sandbox"`
	Check   CheckCmd   `cmd:"" help:"Evaluate the policy pipeline for a tool call"`
	Audit   AuditCmd   `cmd:"" help:"Show persisted approval resolutions"`
	Replay  ReplayCmd  `cmd:"" help:"Replay recorded tool events as a timeline"`
	Init    InitCmd    `cmd:"" help:"Write a starter agentcore.toml"`
	Version VersionCmd `cmd:"" help:"Show version information (${version})"`
}

// RunCmd executes the decision loop.
type RunCmd struct {
	Goal        string   `short:"g" required:"" help:"What the run should achieve"`
	TaskFile    string   `short:"t" type:"existingfile" help:"JSON file with the initial tasks"`
	Context     string   `help:"Background passed to the oracle"`
	Skills      []string `short:"s" type:"existingdir" help:"Skill directory (repeatable)"`
	Workspace   string   `short:"w" type:"existingdir" help:"Directory mounted into the sandbox (default: cwd)"`
	Policy      string   `help:"Policy file path (overrides config)" type:"existingfile"`
	NoApproval  bool     `help:"Approve every flagged call automatically"`
	JSON        bool     `help:"Print the result as JSON"`
	Interactive bool     `default:"true" negatable:"" help:"Prompt on the terminal for approvals"`
}

// ExecCmd runs one argv in a fresh sandbox.
type ExecCmd struct {
	Workspace string        `short:"w" type:"existingdir" help:"Directory mounted into the sandbox (default: cwd)"`
	Timeout   time.Duration `help:"Kill the command after this long" default:"0s"`
	Argv      []string      `arg:"" passthrough:"" help:"Command and arguments"`
}

// CheckCmd evaluates the policy for one call without running it.
type CheckCmd struct {
	Tool   string   `arg:"" help:"Tool name"`
	Params string   `arg:"" optional:"" default:"{}" help:"Parameters as a JSON object"`
	Policy string   `help:"Policy file path (overrides config)" type:"existingfile"`
	Skills []string `short:"s" type:"existingdir" help:"Skill directory used for schema checks (repeatable)"`
}

// AuditCmd lists persisted approval resolutions.
type AuditCmd struct {
	Limit int  `short:"n" default:"20" help:"Maximum rows (0 for all)"`
	JSON  bool `help:"Print as JSON"`
}

// ReplayCmd renders recorded tool events.
type ReplayCmd struct {
	File    string `arg:"" optional:"" type:"path" help:"JSONL event log (default: configured event log)"`
	Session string `help:"Only show this session"`
	DB      bool   `name:"db" help:"Read events from the database instead of the event log"`
	Verbose int    `short:"v" type:"counter" help:"Show parameters and results"`
	Pager   bool   `short:"p" help:"Open in an interactive pager"`
	Live    bool   `short:"l" help:"Pager that follows the event log as it grows"`
}

// InitCmd writes the default configuration.
type InitCmd struct {
	Model string `short:"m" help:"LLM model to configure"`
	Path  string `default:"agentcore.toml" type:"path" help:"Where to write the config"`
	Force bool   `short:"f" help:"Overwrite an existing file"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

// kongVars returns variables for kong (version info).
func kongVars() kong.Vars {
	return kong.Vars{
		"version": version,
	}
}
