// Package enforce holds the response-quality gates applied to agent output:
// the flattery validator and the scope-creep guard.
package enforce

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Flattery categories.
const (
	CategoryDirectPraise            = "direct_praise"
	CategorySelfCongratulation      = "self_congratulation"
	CategoryStatusFiller            = "status_filler"
	CategoryUnnecessaryConfirmation = "unnecessary_confirmation"
)

// FlatteryPattern is one catalogue entry. Label is canonical: several
// surface forms of the same phrase share a label, and the pattern-count
// threshold counts distinct labels, not raw matches.
type FlatteryPattern struct {
	Pattern  *regexp.Regexp
	Category string
	Label    string
}

type ValidationResult struct {
	Valid   bool
	Ratio   float64
	Matched []string // distinct labels, sorted
	Reason  string
}

type ValidatorConfig struct {
	Enabled               bool
	FlatteryThreshold     float64 // ratio threshold in strict mode; doubled otherwise
	PatternCountThreshold int     // distinct-label threshold in strict mode; doubled otherwise
	MaxRetries            int
}

func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		Enabled:               true,
		FlatteryThreshold:     0.08,
		PatternCountThreshold: 3,
		MaxRetries:            2,
	}
}

type Validator struct {
	cfg      ValidatorConfig
	patterns []FlatteryPattern
}

func NewValidator(cfg ValidatorConfig) *Validator {
	if cfg.FlatteryThreshold <= 0 {
		cfg.FlatteryThreshold = DefaultValidatorConfig().FlatteryThreshold
	}
	if cfg.PatternCountThreshold <= 0 {
		cfg.PatternCountThreshold = DefaultValidatorConfig().PatternCountThreshold
	}
	return &Validator{cfg: cfg, patterns: flatteryCatalogue}
}

var (
	fencedCodeRe = regexp.MustCompile("(?s)```.*?```")
	inlineCodeRe = regexp.MustCompile("`[^`\n]*`")
)

// stripCode removes fenced blocks and inline code spans; only the remainder
// is scanned so praise quoted inside code samples never counts.
func stripCode(text string) string {
	text = fencedCodeRe.ReplaceAllString(text, "")
	return inlineCodeRe.ReplaceAllString(text, "")
}

// Validate scans text for catalogue matches. strictMode applies the
// configured thresholds directly (agent-to-agent turns); user-facing turns
// get double the allowance. Deterministic for identical inputs.
func (v *Validator) Validate(text string, strictMode bool) ValidationResult {
	if !v.cfg.Enabled {
		return ValidationResult{Valid: true}
	}

	scanned := stripCode(text)
	total := len([]rune(scanned))
	if total == 0 {
		return ValidationResult{Valid: true}
	}

	ratioThreshold := v.cfg.FlatteryThreshold
	countThreshold := v.cfg.PatternCountThreshold
	if !strictMode {
		ratioThreshold *= 2
		countThreshold *= 2
	}

	matchedChars := 0
	labels := make(map[string]struct{})
	for _, p := range v.patterns {
		matches := p.Pattern.FindAllString(scanned, -1)
		if len(matches) == 0 {
			continue
		}
		labels[p.Label] = struct{}{}
		for _, m := range matches {
			matchedChars += len([]rune(m))
		}
	}

	ratio := float64(matchedChars) / float64(total)
	matched := make([]string, 0, len(labels))
	for label := range labels {
		matched = append(matched, label)
	}
	sort.Strings(matched)

	result := ValidationResult{Ratio: ratio, Matched: matched}
	switch {
	case ratio > ratioThreshold:
		result.Reason = fmt.Sprintf("flattery ratio %.2f exceeds %.2f (matched: %s)",
			ratio, ratioThreshold, strings.Join(matched, ", "))
	case len(matched) > countThreshold:
		result.Reason = fmt.Sprintf("%d distinct flattery patterns exceed %d (matched: %s)",
			len(matched), countThreshold, strings.Join(matched, ", "))
	default:
		result.Valid = true
	}
	return result
}

// MaxRetries bounds the reject → re-prompt cycle.
func (v *Validator) MaxRetries() int {
	return v.cfg.MaxRetries
}

// RewritePrompt builds the re-prompt sent back to the model after a
// rejection, listing the offending labels.
func RewritePrompt(result ValidationResult) string {
	return fmt.Sprintf(
		"Your previous response was rejected for excessive flattery or filler (%s). "+
			"Rewrite it: state only facts, decisions, and results. No praise, no filler.",
		strings.Join(result.Matched, ", "))
}
