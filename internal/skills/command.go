package skills

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vinayprograms/agentcore/internal/locks"
	"github.com/vinayprograms/agentcore/internal/sandbox"
	"github.com/vinayprograms/agentcore/internal/schema"
)

// ParamsEnv carries the JSON-encoded call to a command skill.
const ParamsEnv = "AGENTCORE_PARAMS"

// MountPoint is where the skills directory appears inside a container.
const MountPoint = "/skills"

// Execer runs argv inside a sandbox context; *sandbox.Manager satisfies it.
type Execer interface {
	Exec(ctx context.Context, sc *sandbox.Context, argv []string, opts sandbox.ExecOptions) (*sandbox.ExecResult, error)
}

// Manifest is the SKILL.md frontmatter of a command skill.
type Manifest struct {
	Name         string            `yaml:"name"`
	Description  string            `yaml:"description"`
	License      string            `yaml:"license,omitempty"`
	Metadata     map[string]string `yaml:"metadata,omitempty"`
	Capabilities []string          `yaml:"capabilities,omitempty"`
	Entrypoint   []string          `yaml:"entrypoint"`
	InputSchema  *schema.Schema    `yaml:"input_schema,omitempty"`
	Resources    []ResourceClaim   `yaml:"resources,omitempty"`
	Risk         string            `yaml:"risk,omitempty"`
	Timeout      int               `yaml:"timeout,omitempty"` // seconds
}

// CommandSkill runs an external program per call. Parameters go in through
// the AGENTCORE_PARAMS environment variable; the program prints a JSON
// {success, data, message, error} object on stdout.
type CommandSkill struct {
	Manifest
	Instructions string
	Dir          string

	execer Execer
}

// Ref is the lightweight form returned by Discover.
type Ref struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Path        string `yaml:"-" json:"path"`
}

// Load reads dir/SKILL.md. The skill name must match the directory name.
func Load(dir string, execer Execer) (*CommandSkill, error) {
	content, err := os.ReadFile(filepath.Join(dir, "SKILL.md"))
	if err != nil {
		return nil, fmt.Errorf("failed to read SKILL.md: %w", err)
	}
	s, err := Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", dir, err)
	}
	if base := filepath.Base(dir); s.Manifest.Name != base {
		return nil, fmt.Errorf("skill name %q does not match directory name %q", s.Manifest.Name, base)
	}
	s.Dir = dir
	s.execer = execer
	return s, nil
}

// Parse parses SKILL.md content without binding it to a directory.
func Parse(content string) (*CommandSkill, error) {
	frontmatter, body, err := splitFrontmatter(content)
	if err != nil {
		return nil, err
	}
	s := &CommandSkill{}
	if err := yaml.Unmarshal([]byte(frontmatter), &s.Manifest); err != nil {
		return nil, fmt.Errorf("invalid frontmatter: %w", err)
	}
	if s.Manifest.Name == "" {
		return nil, fmt.Errorf("missing required field: name")
	}
	if s.Manifest.Description == "" {
		return nil, fmt.Errorf("missing required field: description")
	}
	if len(s.Entrypoint) == 0 {
		return nil, fmt.Errorf("missing required field: entrypoint")
	}
	if err := validateName(s.Manifest.Name); err != nil {
		return nil, err
	}
	for i, rc := range s.Manifest.Resources {
		if rc.Resource == "" {
			return nil, fmt.Errorf("resources[%d]: empty resource", i)
		}
		switch rc.Type {
		case "":
			s.Manifest.Resources[i].Type = locks.Write
		case locks.Read, locks.Write:
		default:
			return nil, fmt.Errorf("resources[%d]: unknown lock type %q", i, rc.Type)
		}
	}
	s.Instructions = strings.TrimSpace(body)
	return s, nil
}

func splitFrontmatter(content string) (frontmatter, body string, err error) {
	lines := strings.Split(content, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return "", "", fmt.Errorf("missing frontmatter delimiter")
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			return strings.Join(lines[1:i], "\n"), strings.Join(lines[i+1:], "\n"), nil
		}
	}
	return "", "", fmt.Errorf("unclosed frontmatter")
}

// validateName allows lowercase letters, digits and single inner hyphens.
func validateName(name string) error {
	if len(name) == 0 || len(name) > 64 {
		return fmt.Errorf("name must be 1-64 characters")
	}
	if strings.HasPrefix(name, "-") || strings.HasSuffix(name, "-") {
		return fmt.Errorf("name cannot start or end with hyphen")
	}
	if strings.Contains(name, "--") {
		return fmt.Errorf("name cannot contain consecutive hyphens")
	}
	for _, r := range name {
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-') {
			return fmt.Errorf("name can only contain lowercase letters, numbers, and hyphens")
		}
	}
	return nil
}

// Discover lists skill directories under root without fully loading them.
func Discover(root string) ([]Ref, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var refs []Ref
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		ref, err := readRef(filepath.Join(root, entry.Name(), "SKILL.md"))
		if err != nil {
			continue
		}
		ref.Path = filepath.Join(root, entry.Name())
		refs = append(refs, ref)
	}
	return refs, nil
}

func readRef(file string) (Ref, error) {
	f, err := os.Open(file)
	if err != nil {
		return Ref{}, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var started bool
	var lines []string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "---" {
			if started {
				break
			}
			started = true
			continue
		}
		if started {
			lines = append(lines, line)
		}
	}
	var ref Ref
	if err := yaml.Unmarshal([]byte(strings.Join(lines, "\n")), &ref); err != nil {
		return Ref{}, err
	}
	return ref, nil
}

// LoadAll loads and registers every skill under root. Broken skills are
// returned as errors but do not stop the others from loading.
func LoadAll(root string, reg *Registry, execer Execer) ([]error, error) {
	refs, err := Discover(root)
	if err != nil {
		return nil, err
	}
	var problems []error
	for _, ref := range refs {
		s, err := Load(ref.Path, execer)
		if err != nil {
			problems = append(problems, err)
			continue
		}
		if err := reg.Register(s); err != nil {
			problems = append(problems, err)
		}
	}
	return problems, nil
}

func (s *CommandSkill) Name() string                { return s.Manifest.Name }
func (s *CommandSkill) Description() string         { return s.Manifest.Description }
func (s *CommandSkill) InputSchema() *schema.Schema { return s.Manifest.InputSchema }
func (s *CommandSkill) Capabilities() []string      { return s.Manifest.Capabilities }

func (s *CommandSkill) ValidateParams(params map[string]interface{}) ValidationResult {
	return ValidateWithSchema(s.Manifest.InputSchema, params)
}

var placeholder = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// Resources expands {param} placeholders in the declared claims.
func (s *CommandSkill) Resources(params map[string]interface{}) []ResourceClaim {
	out := make([]ResourceClaim, 0, len(s.Manifest.Resources))
	for _, rc := range s.Manifest.Resources {
		res := placeholder.ReplaceAllStringFunc(rc.Resource, func(m string) string {
			if v, ok := params[m[1:len(m)-1]]; ok {
				return fmt.Sprint(v)
			}
			return m
		})
		out = append(out, ResourceClaim{Resource: res, Type: rc.Type})
	}
	return out
}

func (s *CommandSkill) Run(ctx context.Context, params map[string]interface{}, rc RunContext) (*Result, error) {
	if s.execer == nil || rc.Sandbox == nil {
		return nil, fmt.Errorf("skill %s: no sandbox to run in", s.Name())
	}
	payload, err := json.Marshal(map[string]interface{}{
		"params": params,
		"context": map[string]string{
			"session_id": rc.SessionID,
			"task_id":    rc.TaskID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}

	var timeout time.Duration
	if s.Timeout > 0 {
		timeout = time.Duration(s.Timeout) * time.Second
	}
	res, err := s.execer.Exec(ctx, rc.Sandbox, s.argv(rc.Sandbox), sandbox.ExecOptions{
		Timeout: timeout,
		Env:     map[string]string{ParamsEnv: string(payload)},
	})
	if err != nil {
		return nil, err
	}
	return parseOutput(res), nil
}

// argv resolves ./ and scripts/ entrypoint parts against the skill dir as
// seen from inside the sandbox.
func (s *CommandSkill) argv(sc *sandbox.Context) []string {
	out := make([]string, len(s.Entrypoint))
	for i, a := range s.Entrypoint {
		if strings.HasPrefix(a, "./") || strings.HasPrefix(a, "scripts/") {
			if sc.Degraded() {
				abs, err := filepath.Abs(filepath.Join(s.Dir, a))
				if err == nil {
					a = abs
				}
			} else {
				a = path.Join(MountPoint, filepath.Base(s.Dir), a)
			}
		}
		out[i] = a
	}
	return out
}

// Mount is the read-only bind mount that puts the skill dir where argv
// expects it inside a container.
func (s *CommandSkill) Mount() sandbox.Mount {
	host, err := filepath.Abs(s.Dir)
	if err != nil {
		host = s.Dir
	}
	return sandbox.Mount{
		HostPath:      host,
		ContainerPath: path.Join(MountPoint, filepath.Base(s.Dir)),
		ReadOnly:      true,
	}
}

// Mounts collects the mounts of every command skill in reg, one per
// container path.
func Mounts(reg *Registry) []sandbox.Mount {
	var out []sandbox.Mount
	seen := make(map[string]bool)
	for _, sk := range reg.List() {
		cs, ok := sk.(*CommandSkill)
		if !ok || cs.Dir == "" {
			continue
		}
		mt := cs.Mount()
		if seen[mt.ContainerPath] {
			continue
		}
		seen[mt.ContainerPath] = true
		out = append(out, mt)
	}
	return out
}

func parseOutput(res *sandbox.ExecResult) *Result {
	if res.TimedOut {
		return &Result{Success: false, Error: res.Stderr}
	}
	out := strings.TrimSpace(res.Stdout)
	var r Result
	if err := json.Unmarshal([]byte(out), &r); err == nil {
		return &r
	}
	if i := strings.LastIndex(out, "\n"); i >= 0 {
		if err := json.Unmarshal([]byte(out[i+1:]), &r); err == nil {
			return &r
		}
	}
	if res.ExitCode != 0 {
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = fmt.Sprintf("exit code %d", res.ExitCode)
		}
		return &Result{Success: false, Data: out, Error: msg}
	}
	return &Result{Success: true, Data: out}
}
