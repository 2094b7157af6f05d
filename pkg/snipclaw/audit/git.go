package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// IdentityHint is appended to git failures caused by a missing committer
// identity.
const IdentityHint = "set git.name and git.email in config.yaml"

// GitConfig configures the git recorder.
type GitConfig struct {
	Enabled bool          `yaml:"enabled"`
	Dir     string        `yaml:"dir"` // repository work tree; defaults to the snippet dir
	Name    string        `yaml:"name"`
	Email   string        `yaml:"email"`
	Push    bool          `yaml:"push"`
	Remote  string        `yaml:"remote"`
	Branch  string        `yaml:"branch"`
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultGitConfig returns default configuration.
func DefaultGitConfig() GitConfig {
	return GitConfig{
		Enabled: true,
		Push:    true,
		Timeout: 60 * time.Second,
	}
}

// IdentityError marks a commit that failed because git has no committer
// identity.
type IdentityError struct {
	Err error
}

func (e *IdentityError) Error() string {
	return e.Err.Error() + " (hint: " + IdentityHint + ")"
}

func (e *IdentityError) Unwrap() error { return e.Err }

// Git records changes as commits in a git work tree.
type Git struct {
	cfg    GitConfig
	logger *slog.Logger

	// mu serializes git invocations on the shared index.
	mu sync.Mutex
}

// NewGit creates a git recorder.
func NewGit(cfg GitConfig, logger *slog.Logger) *Git {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Git{cfg: cfg, logger: logger.With("component", "git-audit")}
}

// Dir returns the work tree directory.
func (g *Git) Dir() string { return g.cfg.Dir }

// Record stages the changed files, commits when something is staged and
// pushes when configured.
func (g *Git) Record(ctx context.Context, c Change) error {
	if len(c.Files) == 0 {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	var present, gone []string
	for _, f := range c.Files {
		rel, err := g.relative(f)
		if err != nil {
			return err
		}
		if _, err := os.Stat(f); err == nil {
			present = append(present, rel)
		} else {
			gone = append(gone, rel)
		}
	}

	if len(present) > 0 {
		if _, err := g.run(ctx, append([]string{"add", "--"}, present...)...); err != nil {
			return err
		}
	}
	if len(gone) > 0 {
		args := append([]string{"rm", "--cached", "--ignore-unmatch", "--quiet", "--"}, gone...)
		if _, err := g.run(ctx, args...); err != nil {
			return err
		}
	}

	staged, err := g.hasStaged(ctx)
	if err != nil {
		return err
	}
	if !staged {
		g.logger.Debug("nothing to commit", "key", c.Key)
		return nil
	}

	var args []string
	if g.cfg.Name != "" {
		args = append(args, "-c", "user.name="+g.cfg.Name)
	}
	if g.cfg.Email != "" {
		args = append(args, "-c", "user.email="+g.cfg.Email)
	}
	args = append(args, "commit", "--quiet", "-m", c.Message)
	if out, err := g.run(ctx, args...); err != nil {
		if strings.Contains(out, "Author identity unknown") || strings.Contains(out, "empty ident name") {
			return &IdentityError{Err: err}
		}
		return err
	}
	g.logger.Info("change committed", "key", c.Key, "files", len(c.Files), "author", c.Author)

	if !g.cfg.Push {
		return nil
	}
	push := []string{"push"}
	if g.cfg.Remote != "" {
		push = append(push, g.cfg.Remote)
		if g.cfg.Branch != "" {
			push = append(push, g.cfg.Branch)
		}
	}
	if _, err := g.run(ctx, push...); err != nil {
		return fmt.Errorf("commit kept locally: %w", err)
	}
	return nil
}

// Pull fast-forwards the work tree from its upstream.
func (g *Git) Pull(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	args := []string{"pull", "--ff-only", "--quiet"}
	if g.cfg.Remote != "" {
		args = append(args, g.cfg.Remote)
		if g.cfg.Branch != "" {
			args = append(args, g.cfg.Branch)
		}
	}
	_, err := g.run(ctx, args...)
	return err
}

// IsRepo reports whether the directory is inside a git work tree.
func (g *Git) IsRepo(ctx context.Context) bool {
	out, err := g.run(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// hasStaged runs git diff --cached --quiet, which exits 1 when the index
// differs from HEAD.
func (g *Git) hasStaged(ctx context.Context) (bool, error) {
	_, err := g.run(ctx, "diff", "--cached", "--quiet")
	if err == nil {
		return false, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return true, nil
	}
	return false, err
}

func (g *Git) relative(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", path, err)
	}
	dir, err := filepath.Abs(g.cfg.Dir)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", g.cfg.Dir, err)
	}
	rel, err := filepath.Rel(dir, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%s is outside the repository %s", path, g.cfg.Dir)
	}
	return filepath.ToSlash(rel), nil
}

// run executes git in the work tree and returns its trimmed combined
// output. The error wraps *exec.ExitError and carries git's message.
func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.cfg.Dir
	out, err := cmd.CombinedOutput()
	result := strings.TrimSpace(string(out))
	if err != nil {
		if result != "" {
			return result, fmt.Errorf("git %s: %s: %w", args[0], result, err)
		}
		return result, fmt.Errorf("git %s: %w", args[0], err)
	}
	return result, nil
}
