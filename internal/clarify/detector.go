package clarify

import (
	"regexp"
	"strings"
)

// DefaultThreshold is the confidence score at or above which a fragment is
// treated as a genuine blocking question. Empirically chosen; override via
// DetectorConfig.
const DefaultThreshold = 50

// Detection is the result of inspecting one fragment.
type Detection struct {
	Blocking   bool
	Confidence int
	Question   string
	Options    []string
}

// DetectorConfig holds detector tuning.
type DetectorConfig struct {
	Threshold int
	Patterns  PatternSet
}

// Detector scores agent text fragments against the pattern table. The scorer
// is pure: all state lives in the table and the threshold.
type Detector struct {
	threshold int
	patterns  PatternSet
}

// NewDetector creates a detector. A zero threshold means DefaultThreshold;
// an empty pattern set means DefaultPatterns.
func NewDetector(cfg DetectorConfig) *Detector {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if len(cfg.Patterns.Blocking) == 0 && len(cfg.Patterns.NonBlocking) == 0 {
		cfg.Patterns = DefaultPatterns()
	}
	return &Detector{threshold: cfg.Threshold, patterns: cfg.Patterns}
}

const (
	questionMarkWeight  = 30
	blockingCap         = 40
	uncertaintyWeight   = 10
	enumerationWeight   = 15
	nonBlockingFloor    = -30
)

// Score computes the confidence score in [0,100] for a fragment.
func (d *Detector) Score(fragment string) int {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return 0
	}

	score := 0
	if strings.HasSuffix(fragment, "?") {
		score += questionMarkWeight
	}

	blocking := 0
	for _, p := range d.patterns.Blocking {
		if p.Match(fragment) {
			blocking += p.Weight
		}
	}
	if blocking > blockingCap {
		blocking = blockingCap
	}
	score += blocking

	for _, p := range d.patterns.Uncertainty {
		if p.Match(fragment) {
			score += uncertaintyWeight
			break
		}
	}

	for _, p := range d.patterns.Enumeration {
		if p.Match(fragment) {
			score += enumerationWeight
			break
		}
	}

	narration := 0
	for _, p := range d.patterns.NonBlocking {
		if p.Match(fragment) {
			narration += p.Weight
		}
	}
	if narration < nonBlockingFloor {
		narration = nonBlockingFloor
	}
	score += narration

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

var sentenceSplit = regexp.MustCompile(`[.!?]\s+`)

// lastSentence returns the final sentence of the fragment.
func lastSentence(fragment string) string {
	parts := sentenceSplit.Split(strings.TrimSpace(fragment), -1)
	for i := len(parts) - 1; i >= 0; i-- {
		s := strings.TrimSpace(parts[i])
		if s != "" {
			return s
		}
	}
	return strings.TrimSpace(fragment)
}

// Detect decides whether the fragment is a genuine blocking question. Free
// agent narration frequently contains rhetorical or self-directed questions,
// so detection requires BOTH a structural signal in the last sentence (it
// ends in "?" or matches a blocking pattern) AND a score at the threshold.
func (d *Detector) Detect(fragment string) Detection {
	fragment = strings.TrimSpace(fragment)
	score := d.Score(fragment)

	last := lastSentence(fragment)
	structural := strings.HasSuffix(strings.TrimSpace(fragment), "?")
	if !structural {
		for _, p := range d.patterns.Blocking {
			if p.Match(last) {
				structural = true
				break
			}
		}
	}

	det := Detection{Confidence: score}
	if !structural || score < d.threshold {
		return det
	}

	det.Blocking = true
	det.Question = fragment
	det.Options = ExtractOptions(fragment)
	return det
}
