// Package clarify decides whether agent text is a genuine blocking question,
// extracts presented option sets, and scores confidence.
package clarify

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Pattern pairs a compiled regular expression with the weight it contributes
// to the confidence score. Blocking patterns carry positive weights,
// non-blocking (progress narration) patterns negative ones.
type Pattern struct {
	Name   string
	Weight int
	re     *regexp.Regexp
}

// Match reports whether the pattern matches the fragment.
func (p Pattern) Match(s string) bool { return p.re.MatchString(s) }

func mustPattern(name string, weight int, expr string) Pattern {
	return Pattern{Name: name, Weight: weight, re: regexp.MustCompile(expr)}
}

// PatternSet is the data-driven classification table consumed by the scorer.
type PatternSet struct {
	Blocking    []Pattern
	NonBlocking []Pattern
	Uncertainty []Pattern
	Enumeration []Pattern
}

// DefaultPatterns returns the built-in classification table, tuned against
// real agent transcripts.
func DefaultPatterns() PatternSet {
	return PatternSet{
		Blocking: []Pattern{
			mustPattern("preference", 10, `(?i)\b(?:do|would) you (?:want|prefer|like)\b`),
			mustPattern("should-i", 10, `(?i)\bshould (?:i|we|it)\b`),
			mustPattern("which-choice", 10, `(?i)\bwhich (?:one|option|approach|framework|database|library|way)\b`),
			mustPattern("choose-between", 10, `(?i)\b(?:choose|pick|decide) between\b`),
			mustPattern("either-or", 10, `(?i)\b[\w.+#-]+ or [\w.+#-]+\b.*\?\s*$`),
			mustPattern("confirmation", 10, `(?i)\b(?:is (?:that|this) (?:ok|okay|correct|right|acceptable)|can you confirm|please confirm|let me know (?:if|which|whether))\b`),
			mustPattern("need-input", 10, `(?i)\b(?:i need (?:your|you to)|waiting for your|your (?:preference|decision|input|choice))\b`),
		},
		NonBlocking: []Pattern{
			mustPattern("let-me", -15, `(?i)\blet me\b`),
			mustPattern("going-to", -15, `(?i)\bi'?m going to\b`),
			mustPattern("i-will", -15, `(?i)\b(?:now )?i'?ll\b`),
			mustPattern("next-step", -15, `(?i)\b(?:next,? i|proceeding to|moving on to|starting (?:on|with))\b`),
		},
		Uncertainty: []Pattern{
			mustPattern("not-sure", 10, `(?i)\b(?:not sure|unsure|unclear|don'?t know|uncertain)\b`),
		},
		Enumeration: []Pattern{
			mustPattern("option-n", 15, `(?i)\boption \d\b`),
			mustPattern("numbered", 15, `(?m)^\s*1[.)]\s+\S`),
			mustPattern("inline-numbered", 15, `(?i)\b1[.)] .+ (?:or )?2[.)] `),
		},
	}
}

// patternFile is the YAML shape for overriding the built-in table without
// touching control flow.
type patternFile struct {
	Blocking    []patternEntry `yaml:"blocking"`
	NonBlocking []patternEntry `yaml:"non_blocking"`
	Uncertainty []patternEntry `yaml:"uncertainty"`
	Enumeration []patternEntry `yaml:"enumeration"`
}

type patternEntry struct {
	Name   string `yaml:"name"`
	Weight int    `yaml:"weight"`
	Regex  string `yaml:"regex"`
}

// LoadPatterns reads a pattern table from a YAML file.
func LoadPatterns(path string) (PatternSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PatternSet{}, fmt.Errorf("reading patterns file: %w", err)
	}

	var pf patternFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return PatternSet{}, fmt.Errorf("parsing patterns file: %w", err)
	}

	compile := func(entries []patternEntry) ([]Pattern, error) {
		out := make([]Pattern, 0, len(entries))
		for _, e := range entries {
			re, err := regexp.Compile(e.Regex)
			if err != nil {
				return nil, fmt.Errorf("pattern %q: %w", e.Name, err)
			}
			out = append(out, Pattern{Name: e.Name, Weight: e.Weight, re: re})
		}
		return out, nil
	}

	var ps PatternSet
	if ps.Blocking, err = compile(pf.Blocking); err != nil {
		return PatternSet{}, err
	}
	if ps.NonBlocking, err = compile(pf.NonBlocking); err != nil {
		return PatternSet{}, err
	}
	if ps.Uncertainty, err = compile(pf.Uncertainty); err != nil {
		return PatternSet{}, err
	}
	if ps.Enumeration, err = compile(pf.Enumeration); err != nil {
		return PatternSet{}, err
	}
	return ps, nil
}
