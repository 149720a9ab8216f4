package contextwin

import (
	"sort"
	"strings"

	"github.com/ent0n29/solace/internal/turn"
)

// SummaryPrefix introduces a re-injected conversation summary.
const SummaryPrefix = "对话摘要：\n"

// Options bound the context assembled for one model call.
type Options struct {
	// BudgetTokens is the nominal budget measured with Estimate.
	BudgetTokens int
	// KeepLastTurns caps the scan to the most recent KeepLastTurns*2 dialogue
	// turns. Zero or less scans the whole history.
	KeepLastTurns int
	// ReleaseLastUser lets the latest user turn compete for budget like any
	// other pair. By default it is reserved and always sent.
	ReleaseLastUser bool
	// Hint is an optional extra system instruction placed after the summary.
	Hint string
}

type pair struct {
	user      int
	assistant int // -1 when the user turn has no reply
}

// Prune selects the turns sent to the model for one call:
//
//	system, summary, hint, kept pairs..., last user turn
//
// The leading system turn, the summary and the hint are never dropped and are
// charged against the budget first. Pairs are admitted newest first and
// admission stops at the first pair that would overflow. The latest user turn
// is always included, even when it alone exceeds the budget.
func Prune(history []turn.Turn, summary string, opts Options) []turn.Turn {
	head := make([]turn.Turn, 0, 3)
	rest := history
	if len(history) > 0 && history[0].Role == turn.RoleSystem {
		head = append(head, history[0])
		rest = history[1:]
	}
	if s := strings.TrimSpace(summary); s != "" {
		head = append(head, turn.System(SummaryPrefix+s))
	}
	if h := strings.TrimSpace(opts.Hint); h != "" {
		head = append(head, turn.System(h))
	}

	seq := turn.Dialogue(rest)

	total := 0
	for _, t := range head {
		total += Estimate(t.Content)
	}

	lastUser := -1
	if !opts.ReleaseLastUser {
		for i := len(seq) - 1; i >= 0; i-- {
			if seq[i].Role == turn.RoleUser {
				lastUser = i
				break
			}
		}
	}

	kept := make([]int, 0, len(seq))
	if lastUser >= 0 {
		cost := Estimate(seq[lastUser].Content)
		if total+cost > opts.BudgetTokens {
			return append(head, seq[lastUser])
		}
		kept = append(kept, lastUser)
		total += cost
	}

	pairs := tailPairs(seq, opts.KeepLastTurns)
	for i := len(pairs) - 1; i >= 0; i-- {
		p := pairs[i]
		if p.user == lastUser {
			continue
		}
		need := Estimate(seq[p.user].Content)
		if p.assistant >= 0 {
			need += Estimate(seq[p.assistant].Content)
		}
		if total+need > opts.BudgetTokens {
			break
		}
		kept = append(kept, p.user)
		if p.assistant >= 0 {
			kept = append(kept, p.assistant)
		}
		total += need
	}

	sort.Ints(kept)
	out := make([]turn.Turn, 0, len(head)+len(kept))
	out = append(out, head...)
	for _, i := range kept {
		out = append(out, seq[i])
	}
	return out
}

// tailPairs groups the trailing keepLastTurns*2 turns of seq into
// (user, assistant?) units. Out-of-place assistant turns are skipped.
func tailPairs(seq []turn.Turn, keepLastTurns int) []pair {
	start := 0
	if n := keepLastTurns * 2; keepLastTurns > 0 && len(seq) > n {
		start = len(seq) - n
	}

	var pairs []pair
	for i := start; i < len(seq); {
		if seq[i].Role != turn.RoleUser {
			i++
			continue
		}
		if i+1 < len(seq) && seq[i+1].Role == turn.RoleAssistant {
			pairs = append(pairs, pair{user: i, assistant: i + 1})
			i += 2
			continue
		}
		pairs = append(pairs, pair{user: i, assistant: -1})
		i++
	}
	return pairs
}
