package enforce

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Scope guard modes.
const (
	ModeWarn  = "warn"
	ModeBlock = "block"
)

type ScopeCheckResult struct {
	InScope         bool
	ModifiedFiles   []string
	UnexpectedFiles []string
	Reason          string
}

type ScopeGuardConfig struct {
	Enabled         bool
	AllowedPatterns []string // globs: * (non-slash), ** (cross-segment), ? (single)
	Mode            string   // warn | block
}

func DefaultScopeGuardConfig() ScopeGuardConfig {
	return ScopeGuardConfig{
		Enabled: true,
		Mode:    ModeWarn,
		AllowedPatterns: []string{
			"*.md",
			"**/*_test.go",
			"**/.gitignore",
		},
	}
}

type ScopeGuard struct {
	cfg ScopeGuardConfig
}

func NewScopeGuard(cfg ScopeGuardConfig) *ScopeGuard {
	if cfg.Mode == "" {
		cfg.Mode = ModeWarn
	}
	return &ScopeGuard{cfg: cfg}
}

// expectedFileRe pulls file-looking tokens out of free-form task text:
// path segments ending in a short lowercase extension.
var expectedFileRe = regexp.MustCompile(`[\w\-./]+\.[a-z]{1,4}\b`)

// ExtractExpectedFiles returns the de-duplicated file references found in a
// delegated task description, in order of first appearance.
func ExtractExpectedFiles(task string) []string {
	matches := expectedFileRe.FindAllString(task, -1)
	seen := make(map[string]struct{}, len(matches))
	files := make([]string, 0, len(matches))
	for _, m := range matches {
		m = strings.TrimPrefix(m, "./")
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		files = append(files, m)
	}
	return files
}

// Check compares the files a delegate actually modified against the files
// its task named. Empty modified always passes. Mode warn reports but
// passes; mode block fails on any unexpected file.
func (g *ScopeGuard) Check(expectedFiles, modifiedFiles []string) ScopeCheckResult {
	result := ScopeCheckResult{
		InScope:       true,
		ModifiedFiles: modifiedFiles,
	}
	if !g.cfg.Enabled || len(modifiedFiles) == 0 {
		return result
	}

	for _, modified := range modifiedFiles {
		if g.fileInScope(modified, expectedFiles) {
			continue
		}
		result.UnexpectedFiles = append(result.UnexpectedFiles, modified)
	}

	if len(result.UnexpectedFiles) == 0 {
		return result
	}

	sort.Strings(result.UnexpectedFiles)
	result.Reason = fmt.Sprintf("modified outside task scope: %s",
		strings.Join(result.UnexpectedFiles, ", "))
	if g.cfg.Mode == ModeBlock {
		result.InScope = false
	}
	return result
}

// Mode returns the configured enforcement mode.
func (g *ScopeGuard) Mode() string {
	return g.cfg.Mode
}

func (g *ScopeGuard) fileInScope(modified string, expected []string) bool {
	modified = strings.TrimPrefix(modified, "./")

	for _, exp := range expected {
		exp = strings.TrimPrefix(exp, "./")
		if modified == exp {
			return true
		}
		// A task naming a directory covers everything beneath it.
		if strings.HasPrefix(modified, strings.TrimSuffix(exp, "/")+"/") {
			return true
		}
	}

	for _, pattern := range g.cfg.AllowedPatterns {
		if ok, err := doublestar.Match(pattern, modified); err == nil && ok {
			return true
		}
		if ok, err := doublestar.Match(pattern, path.Base(modified)); err == nil && ok {
			return true
		}
	}
	return false
}
