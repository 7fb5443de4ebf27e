package clarify

import (
	"regexp"
	"strconv"
	"strings"
)

// Option extraction strategies, tried in order. The first strategy that
// yields results wins; later strategies are not also tried.
var (
	reNumbered   = regexp.MustCompile(`(?m)^\s*\d+[.)]\s+(.+)$`)
	reLettered   = regexp.MustCompile(`(?m)^\s*[a-zA-Z][.)]\s+(.+)$`)
	reBulleted   = regexp.MustCompile(`(?m)^\s*[-*•]\s+(.+)$`)
	reBetween    = regexp.MustCompile(`(?i)\bbetween\s+(.+?)\s+and\s+([^,?.!]+)`)
	reInlineOr   = regexp.MustCompile(`(?i)\b(?:want|like|prefer|use|choose|go with|pick)\s+([A-Za-z0-9][\w.+#-]*(?:\s[A-Z][\w.+#-]*)*)\s+or\s+([A-Za-z0-9][\w.+#-]*)`)
	reOptionN    = regexp.MustCompile(`(?i)\boption\s+\d+\s*[:-]\s*([^,;.?\n]+)`)
)

// ExtractOptions pulls an option set out of a blocking question. Returns nil
// when no strategy matches; extracted strings are trimmed of surrounding
// punctuation and quotes.
func ExtractOptions(fragment string) []string {
	strategies := []func(string) []string{
		extractNumbered,
		extractLettered,
		extractBulleted,
		extractBetweenOr,
		extractOptionN,
	}
	for _, s := range strategies {
		if opts := s(fragment); len(opts) > 0 {
			return opts
		}
	}
	return nil
}

func cleanOption(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`+"`“”‘’")
	s = strings.TrimRight(s, ".,;:!?")
	return strings.TrimSpace(s)
}

func collect(matches [][]string) []string {
	var out []string
	for _, m := range matches {
		if opt := cleanOption(m[1]); opt != "" {
			out = append(out, opt)
		}
	}
	// A single-entry "list" is almost always a false positive.
	if len(out) < 2 {
		return nil
	}
	return out
}

func extractNumbered(s string) []string {
	return collect(reNumbered.FindAllStringSubmatch(s, -1))
}

func extractLettered(s string) []string {
	return collect(reLettered.FindAllStringSubmatch(s, -1))
}

func extractBulleted(s string) []string {
	return collect(reBulleted.FindAllStringSubmatch(s, -1))
}

func extractBetweenOr(s string) []string {
	if m := reBetween.FindStringSubmatch(s); m != nil {
		a, b := cleanOption(m[1]), cleanOption(m[2])
		if a != "" && b != "" {
			return []string{a, b}
		}
	}
	if m := reInlineOr.FindStringSubmatch(s); m != nil {
		a, b := cleanOption(m[1]), cleanOption(m[2])
		if a != "" && b != "" {
			return []string{a, b}
		}
	}
	return nil
}

func extractOptionN(s string) []string {
	return collect(reOptionN.FindAllStringSubmatch(s, -1))
}

// MatchKind classifies how a response relates to the presented options.
type MatchKind string

const (
	MatchExact   MatchKind = "exact"
	MatchPartial MatchKind = "partial"
	MatchIndex   MatchKind = "index"
	MatchNone    MatchKind = "none"
)

var reIndexResponse = regexp.MustCompile(`(?i)^(?:option\s+)?(\d+|[a-z])[.)]?$`)

// ClassifyResponse matches a free-text response against the presented
// options. The classification is advisory, used to build a cleaner
// continuation prompt; free-text answers are always accepted.
func ClassifyResponse(response string, options []string) (MatchKind, string) {
	response = strings.TrimSpace(response)
	if response == "" || len(options) == 0 {
		return MatchNone, ""
	}

	for _, opt := range options {
		if strings.EqualFold(response, opt) {
			return MatchExact, opt
		}
	}

	if m := reIndexResponse.FindStringSubmatch(response); m != nil {
		sel := strings.ToLower(m[1])
		idx := -1
		if n, err := strconv.Atoi(sel); err == nil {
			idx = n - 1
		} else if len(sel) == 1 && sel[0] >= 'a' && sel[0] <= 'z' {
			idx = int(sel[0] - 'a')
		}
		if idx >= 0 && idx < len(options) {
			return MatchIndex, options[idx]
		}
	}

	lower := strings.ToLower(response)
	for _, opt := range options {
		optLower := strings.ToLower(opt)
		if strings.Contains(lower, optLower) || strings.Contains(optLower, lower) {
			return MatchPartial, opt
		}
	}

	return MatchNone, ""
}
