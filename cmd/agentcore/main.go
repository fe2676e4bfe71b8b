// Package main is the entry point for the agentcore CLI.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/vinayprograms/agentkit/credentials"
)

// Build-time variables (set via ldflags)
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// globalCreds holds loaded credentials (file > env fallback happens in apiKey)
var globalCreds *credentials.Credentials

func init() {
	if creds, _, err := credentials.Load(); err == nil && creds != nil {
		globalCreds = creds
	}

	// Load .env for any additional env vars
	_ = godotenv.Load()
}

// exitCode lets a command choose the process exit status without printing
// an error.
type exitCode int

func (e exitCode) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("agentcore"),
		kong.Description("Decision-loop execution engine with policy, approval and sandboxing."),
		kong.UsageOnError(),
		kongVars(),
	)

	err := ctx.Run(&cli.Globals)
	var code exitCode
	if errors.As(err, &code) {
		os.Exit(int(code))
	}
	ctx.FatalIfErrorf(err)
}

// Run prints the version.
func (c *VersionCmd) Run(g *Globals) error {
	fmt.Printf("agentcore version %s (commit: %s, built: %s)\n", version, commit, buildTime)
	return nil
}
