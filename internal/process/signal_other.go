//go:build !unix

package process

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

var defaultSignal os.Signal = os.Interrupt

func setProcessGroup(cmd *exec.Cmd) {}

func signalGroup(p *os.Process, sig os.Signal) error {
	return p.Signal(sig)
}

func forceKill(p *os.Process) error {
	return p.Kill()
}

// ParseSignal accepts "SIGINT" and "SIGKILL"; nothing else is portable.
func ParseSignal(name string) (os.Signal, error) {
	switch strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(name)), "SIG") {
	case "", "INT":
		return os.Interrupt, nil
	case "KILL":
		return os.Kill, nil
	}
	return nil, fmt.Errorf("unknown signal %q", name)
}
