package toolbuilder

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

//go:embed validator.py
var validatorScript []byte

const (
	venvTimeout     = 60 * time.Second
	pipTimeout      = 120 * time.Second
	validateTimeout = 30 * time.Second
	hostPipTimeout  = 180 * time.Second
)

// venvSandbox validates candidate code in a throwaway virtualenv under a
// temp directory. One sandbox serves all attempts of a build; requirements
// are reinstalled only when they change.
type venvSandbox struct {
	dir       string
	python    string
	installed string
}

func newVenvSandbox(ctx context.Context, python string) (*venvSandbox, error) {
	dir, err := os.MkdirTemp("", "guenther-build-")
	if err != nil {
		return nil, err
	}
	if out, err := runCommand(ctx, venvTimeout, dir, python, "-m", "venv", filepath.Join(dir, "venv")); err != nil {
		os.RemoveAll(dir)
		return nil, errors.New(commandError(out, err))
	}
	if err := os.WriteFile(filepath.Join(dir, "validator.py"), validatorScript, 0o644); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	return &venvSandbox{
		dir:    dir,
		python: filepath.Join(dir, "venv", "bin", "python"),
	}, nil
}

func (s *venvSandbox) Validate(ctx context.Context, code, requirements string) ([]string, string, error) {
	toolPath := filepath.Join(s.dir, "tool.py")
	if err := os.WriteFile(toolPath, []byte(code), 0o644); err != nil {
		return nil, "", err
	}

	if reqs := strings.TrimSpace(requirements); reqs != "" && reqs != s.installed {
		reqPath := filepath.Join(s.dir, "requirements.txt")
		if err := os.WriteFile(reqPath, []byte(reqs+"\n"), 0o644); err != nil {
			return nil, "", err
		}
		if out, err := runCommand(ctx, pipTimeout, s.dir, s.python, "-m", "pip", "install", "-q", "-r", reqPath); err != nil {
			return nil, "", fmt.Errorf("pip install fehlgeschlagen: %s", commandError(out, err))
		}
		s.installed = reqs
	}

	out, err := runCommand(ctx, validateTimeout, s.dir, s.python, filepath.Join(s.dir, "validator.py"), toolPath)
	if err != nil {
		return nil, "", errors.New(commandError(out, err))
	}
	return parseValidatorOutput(out)
}

func (s *venvSandbox) Close() {
	os.RemoveAll(s.dir)
}

// parseValidatorOutput reads the OK|<names>|<summary> line the validator
// prints on success.
func parseValidatorOutput(out string) ([]string, string, error) {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "OK|") {
			continue
		}
		parts := strings.SplitN(line, "|", 3)
		if len(parts) < 3 {
			break
		}
		var names []string
		for _, n := range strings.Split(parts[1], ",") {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
		if len(names) == 0 {
			break
		}
		return names, parts[2], nil
	}
	return nil, "", fmt.Errorf("Validator lieferte kein Ergebnis: %s", truncate(strings.TrimSpace(out), errorLogLimit))
}

// defaultHostInstall makes the validated requirements importable for the
// tool runner processes. Best effort; the caller logs failures.
func (b *Builder) defaultHostInstall(ctx context.Context, requirements string) error {
	f, err := os.CreateTemp("", "guenther-reqs-*.txt")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())
	if _, err := f.WriteString(strings.TrimSpace(requirements) + "\n"); err != nil {
		f.Close()
		return err
	}
	f.Close()

	if out, err := runCommand(ctx, hostPipTimeout, "", b.python, "-m", "pip", "install", "-q", "-r", f.Name()); err != nil {
		return errors.New(commandError(out, err))
	}
	return nil
}

func runCommand(ctx context.Context, timeout time.Duration, dir, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return string(out), fmt.Errorf("Timeout nach %s", timeout)
	}
	return string(out), err
}

func commandError(out string, err error) string {
	if msg := strings.TrimSpace(out); msg != "" {
		return msg
	}
	return err.Error()
}
