package policy

import "strings"

// Level is the triage classification of a single user utterance.
type Level string

const (
	LevelLow    Level = "LOW"
	LevelMedium Level = "MEDIUM"
	LevelHigh   Level = "HIGH"
)

// Valid reports whether l is one of the known levels.
func (l Level) Valid() bool {
	switch l {
	case LevelLow, LevelMedium, LevelHigh:
		return true
	default:
		return false
	}
}

// Assessment is a Level plus the vocabulary hits that produced it.
type Assessment struct {
	Level Level
	// Hits are "group:term" for medium hits or "high:term" for the first
	// high-risk match.
	Hits []string
}

// Tags renders the hits for storage alongside a risk event.
func (a Assessment) Tags() string {
	return strings.Join(a.Hits, ",")
}

// Classify returns the risk level of text. It never blocks and never fails.
func Classify(text string) Level {
	return Assess(text).Level
}

// Assess classifies text, first match wins:
//
//   - HIGH on any high-risk term.
//   - MEDIUM on two or more distinct medium terms, or exactly one medium term
//     together with an intensity marker.
//   - LOW otherwise.
func Assess(text string) Assessment {
	in := Normalize(text)
	if in == "" {
		return Assessment{Level: LevelLow}
	}

	for _, term := range highRiskNorm {
		if strings.Contains(in, term) {
			return Assessment{Level: LevelHigh, Hits: []string{"high:" + term}}
		}
	}

	var hits []string
	for _, nt := range mediumRiskNorm {
		if strings.Contains(in, nt.term) {
			hits = append(hits, nt.group+":"+nt.term)
		}
	}

	switch {
	case len(hits) >= 2:
		return Assessment{Level: LevelMedium, Hits: hits}
	case len(hits) == 1 && containsAny(in, markersNorm):
		return Assessment{Level: LevelMedium, Hits: hits}
	default:
		return Assessment{Level: LevelLow, Hits: hits}
	}
}

func containsAny(in string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(in, t) {
			return true
		}
	}
	return false
}
