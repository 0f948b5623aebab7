package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ProcStatus is a snapshot of the supervised program as reported by the
// supervisor. Raw carries the unparsed status line for diagnostics.
type ProcStatus struct {
	Running bool
	Pid     int
	Raw     string
}

// Supervisor drives one named program under a process supervisor.
// Implementations are stateless; every call asks the supervisor afresh.
type Supervisor interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	Status(ctx context.Context) (ProcStatus, error)
}

// Supervisorctl implements Supervisor over the supervisorctl CLI.
type Supervisorctl struct {
	Bin     string
	Program string
	Timeout time.Duration
}

// NewSupervisorctl creates a supervisorctl-backed Supervisor for program.
func NewSupervisorctl(bin, program string) *Supervisorctl {
	if bin == "" {
		bin = "supervisorctl"
	}
	return &Supervisorctl{Bin: bin, Program: program, Timeout: 30 * time.Second}
}

func (s *Supervisorctl) run(ctx context.Context, verb string) (string, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	out, err := exec.CommandContext(ctx, s.Bin, verb, s.Program).CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil {
		return text, fmt.Errorf("supervisorctl %s %s: %w (%s)", verb, s.Program, err, text)
	}
	return text, nil
}

func (s *Supervisorctl) Start(ctx context.Context) error {
	out, err := s.run(ctx, "start")
	if err != nil {
		// "already started" is success for our purposes.
		if strings.Contains(out, "ERROR (already started)") {
			return nil
		}
		return err
	}
	return nil
}

func (s *Supervisorctl) Stop(ctx context.Context) error {
	out, err := s.run(ctx, "stop")
	if err != nil {
		if strings.Contains(out, "ERROR (not running)") {
			return nil
		}
		return err
	}
	return nil
}

func (s *Supervisorctl) Restart(ctx context.Context) error {
	_, err := s.run(ctx, "restart")
	return err
}

// Status queries the supervisor. A transport failure (supervisor down,
// binary missing) is reported as not-running with the error attached so
// callers can degrade instead of guessing.
func (s *Supervisorctl) Status(ctx context.Context) (ProcStatus, error) {
	out, err := s.run(ctx, "status")
	st := ProcStatus{Raw: out}
	if err != nil && out == "" {
		return st, err
	}
	// Typical line: "openclaw    RUNNING   pid 4242, uptime 0:01:02"
	st.Running = strings.Contains(out, "RUNNING") || strings.Contains(out, "STARTING")
	if i := strings.Index(out, "pid "); i >= 0 {
		rest := out[i+4:]
		if j := strings.IndexAny(rest, ", \n"); j > 0 {
			rest = rest[:j]
		}
		if pid, perr := strconv.Atoi(rest); perr == nil {
			st.Pid = pid
		}
	}
	return st, nil
}

// WriteEnvFile writes the supervisor wrapper's env hand-off file.
// Keys are emitted sorted so rewrites with the same content are
// byte-identical.
func WriteEnvFile(path string, vars map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create env dir: %w", err)
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		if vars[k] != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(vars[k])
		b.WriteByte('\n')
	}

	if err := os.WriteFile(path, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("write env file: %w", err)
	}
	return nil
}

// UpsertEnvVar rewrites one KEY=value line in the env hand-off file,
// leaving every other line as-is. A missing file is created.
func UpsertEnvVar(path, key, value string) error {
	var lines []string
	if data, err := os.ReadFile(path); err == nil {
		for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
			if line == "" || strings.HasPrefix(line, key+"=") {
				continue
			}
			lines = append(lines, line)
		}
	}
	lines = append(lines, key+"="+value)
	sort.Strings(lines)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create env dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0600); err != nil {
		return fmt.Errorf("write env file: %w", err)
	}
	return nil
}

// ClearEnvFile removes the env hand-off file. Missing is fine.
func ClearEnvFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("could not remove env file", "path", path, "error", err)
	}
}
