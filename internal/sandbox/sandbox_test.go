package sandbox

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeRunner answers container runtime commands without a real runtime.
type fakeRunner struct {
	mu       sync.Mutex
	calls    [][]string
	block    bool
	createID string
}

func (f *fakeRunner) Run(ctx context.Context, argv []string, dir string, env []string) ([]byte, []byte, int, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), argv...))
	f.mu.Unlock()

	if len(argv) < 2 {
		return nil, nil, 1, nil
	}
	switch argv[1] {
	case "version":
		return []byte("24.0.0\n"), nil, 0, nil
	case "create":
		return []byte(f.createID + "\n"), nil, 0, nil
	case "exec":
		if f.block {
			// Ignores ctx on purpose so only the timer can unblock Exec.
			time.Sleep(2 * time.Second)
		}
		return []byte("ok\n"), nil, 0, nil
	}
	return nil, nil, 0, nil
}

func (f *fakeRunner) find(sub string) [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]string
	for _, c := range f.calls {
		if len(c) > 1 && c[1] == sub {
			out = append(out, c)
		}
	}
	return out
}

func contains(args []string, seq ...string) bool {
	for i := 0; i+len(seq) <= len(args); i++ {
		match := true
		for j, s := range seq {
			if args[i+j] != s {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func TestDegraded_RuntimeMissing(t *testing.T) {
	m := NewManager(Config{Enabled: true, Runtime: "no-such-container-runtime"}, nil)
	ctx := context.Background()

	sc, err := m.Create(ctx, t.TempDir(), "s1", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sc.ContainerID != "" || !sc.Degraded() {
		t.Fatalf("expected degraded context, got %q", sc.ContainerID)
	}

	res, err := m.Exec(ctx, sc, []string{"echo", "hello"}, ExecOptions{})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code = %d", res.ExitCode)
	}
	if res.Stdout != "hello\n" {
		t.Errorf("stdout = %q", res.Stdout)
	}
}

func TestDegraded_RunsInWorkdir(t *testing.T) {
	m := NewManager(Config{Enabled: false}, nil)
	dir := t.TempDir()
	sc, _ := m.Create(context.Background(), dir, "s1", nil)

	res, err := m.Exec(context.Background(), sc, []string{"pwd"}, ExecOptions{})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if !strings.HasSuffix(strings.TrimSpace(res.Stdout), strings.TrimPrefix(dir, "/private")) {
		t.Errorf("pwd = %q, want %q", res.Stdout, dir)
	}
}

func TestDegraded_EnvAndExitCode(t *testing.T) {
	m := NewManager(Config{Enabled: false}, nil)
	sc, _ := m.Create(context.Background(), t.TempDir(), "s1", nil)

	res, err := m.Exec(context.Background(), sc, []string{"sh", "-c", "echo $GREETING; exit 7"}, ExecOptions{
		Env: map[string]string{"GREETING": "hi"},
	})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.ExitCode != 7 || res.Stdout != "hi\n" {
		t.Errorf("got exit=%d stdout=%q", res.ExitCode, res.Stdout)
	}
}

func TestRequireIsolation(t *testing.T) {
	m := NewManager(Config{Enabled: true, Runtime: "no-such-container-runtime", RequireIsolation: true}, nil)
	if _, err := m.Create(context.Background(), t.TempDir(), "s1", nil); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestExec_TimeoutIsSynthetic(t *testing.T) {
	m := NewManager(Config{Enabled: false}, nil)
	sc, _ := m.Create(context.Background(), t.TempDir(), "s1", nil)

	start := time.Now()
	res, err := m.Exec(context.Background(), sc, []string{"sleep", "5"}, ExecOptions{Timeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.ExitCode != TimeoutExitCode || !res.TimedOut {
		t.Errorf("expected synthetic timeout, got %+v", res)
	}
	if res.Stdout != "" || !strings.Contains(res.Stderr, "timed out") {
		t.Errorf("unexpected output: %+v", res)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("timeout took too long: %s", time.Since(start))
	}
}

func TestExec_TimerWinsOverStuckRunner(t *testing.T) {
	f := &fakeRunner{createID: "c1", block: true}
	m := NewManager(Config{Enabled: true, Image: "alpine"}, f)
	sc, _ := m.Create(context.Background(), t.TempDir(), "s1", nil)

	start := time.Now()
	res, err := m.Exec(context.Background(), sc, []string{"true"}, ExecOptions{Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.ExitCode != TimeoutExitCode {
		t.Errorf("exit = %d", res.ExitCode)
	}
	if time.Since(start) > time.Second {
		t.Errorf("Exec did not return on timer: %s", time.Since(start))
	}
}

func TestContainer_SecurityDefaultsAndMounts(t *testing.T) {
	f := &fakeRunner{createID: "abc123"}
	m := NewManager(Config{Enabled: true, Image: "alpine:3.20"}, f)
	allowed := t.TempDir()

	sc, err := m.Create(context.Background(), t.TempDir(), "s1", []Mount{
		{HostPath: "/etc", ContainerPath: "/host-etc"},
		{HostPath: allowed, ContainerPath: "/data", ReadOnly: true},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sc.ContainerID != "abc123" {
		t.Fatalf("container id = %q", sc.ContainerID)
	}
	if len(sc.Mounts) != 1 || sc.Mounts[0].ContainerPath != "/data" {
		t.Errorf("mounts = %+v", sc.Mounts)
	}

	creates := f.find("create")
	if len(creates) != 1 {
		t.Fatalf("expected one create call, got %d", len(creates))
	}
	args := creates[0]
	for _, want := range [][]string{
		{"--security-opt", "no-new-privileges"},
		{"--cap-drop", "ALL"},
		{"--read-only"},
		{"--network", "none"},
		{"-w", "/workspace"},
	} {
		if !contains(args, want...) {
			t.Errorf("create args missing %v: %v", want, args)
		}
	}
	for _, a := range args {
		if strings.HasPrefix(a, "/etc") {
			t.Errorf("denied mount forwarded: %v", args)
		}
	}
	if !contains(args, "-v", allowed+":/data:ro") {
		t.Errorf("allowed mount missing: %v", args)
	}

	res, err := m.Exec(context.Background(), sc, []string{"echo", "hi"}, ExecOptions{Env: map[string]string{"A": "1"}})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.Stdout != "ok\n" {
		t.Errorf("stdout = %q", res.Stdout)
	}
	if len(f.find("start")) != 1 {
		t.Error("Exec should start the container first")
	}
	execs := f.find("exec")
	if len(execs) != 1 || !contains(execs[0], "-e", "A=1") || !contains(execs[0], "abc123", "echo", "hi") {
		t.Errorf("exec args = %v", execs)
	}
}

func TestContainer_ExtraDenyPrefixesKeepBuiltins(t *testing.T) {
	f := &fakeRunner{createID: "d1"}
	secrets, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	m := NewManager(Config{Enabled: true, DenyPrefixes: []string{secrets}}, f)

	sc, err := m.Create(context.Background(), t.TempDir(), "s1", []Mount{
		{HostPath: "/etc", ContainerPath: "/host-etc"},
		{HostPath: secrets, ContainerPath: "/secrets"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(sc.Mounts) != 0 {
		t.Errorf("mounts = %+v", sc.Mounts)
	}
}

func TestContainer_DeniedWorkdir(t *testing.T) {
	f := &fakeRunner{createID: "w1"}
	m := NewManager(Config{Enabled: true}, f)

	if _, err := m.Create(context.Background(), "/etc", "s1", nil); err == nil {
		t.Fatal("expected a denied workdir to fail Create")
	}
	if len(f.find("create")) != 0 {
		t.Error("denied workdir must not reach the runtime")
	}
}

func TestContainer_NetworkEnabled(t *testing.T) {
	f := &fakeRunner{createID: "n1"}
	m := NewManager(Config{Enabled: true, Network: true}, f)
	m.Create(context.Background(), t.TempDir(), "s1", nil)
	if contains(f.find("create")[0], "--network", "none") {
		t.Error("network should not be disabled when enabled in config")
	}
}

func TestDestroy_Idempotent(t *testing.T) {
	f := &fakeRunner{createID: "d1"}
	m := NewManager(Config{Enabled: true}, f)
	sc, _ := m.Create(context.Background(), t.TempDir(), "s1", nil)

	for i := 0; i < 3; i++ {
		if err := m.Destroy(context.Background(), sc); err != nil {
			t.Fatalf("Destroy #%d: %v", i, err)
		}
	}
	if n := len(f.find("rm")); n != 1 {
		t.Errorf("expected one rm call, got %d", n)
	}
	if _, err := m.Exec(context.Background(), sc, []string{"true"}, ExecOptions{}); !errors.Is(err, ErrDestroyed) {
		t.Errorf("expected ErrDestroyed, got %v", err)
	}
	if err := m.Destroy(context.Background(), nil); err != nil {
		t.Errorf("nil destroy: %v", err)
	}
}

func TestDestroy_DegradedNeverStarted(t *testing.T) {
	m := NewManager(Config{Enabled: false}, nil)
	sc, _ := m.Create(context.Background(), t.TempDir(), "s1", nil)
	if err := m.Destroy(context.Background(), sc); err != nil {
		t.Errorf("Destroy: %v", err)
	}
	if err := m.Destroy(context.Background(), sc); err != nil {
		t.Errorf("second Destroy: %v", err)
	}
}

func TestCheckMount(t *testing.T) {
	m := NewManager(Config{}, nil)
	tests := []struct {
		mount  Mount
		reject bool
	}{
		{Mount{HostPath: "/etc/passwd", ContainerPath: "/p"}, true},
		{Mount{HostPath: "/proc", ContainerPath: "/p"}, true},
		{Mount{HostPath: "/var/run/docker.sock", ContainerPath: "/s"}, true},
		{Mount{HostPath: "/", ContainerPath: "/r"}, true},
		{Mount{HostPath: t.TempDir(), ContainerPath: "relative"}, true},
		{Mount{HostPath: t.TempDir(), ContainerPath: "/ok"}, false},
	}
	for _, tt := range tests {
		reason := m.checkMount(tt.mount)
		if (reason != "") != tt.reject {
			t.Errorf("checkMount(%+v) = %q, reject=%v", tt.mount, reason, tt.reject)
		}
	}
}
