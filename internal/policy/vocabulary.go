package policy

// Fixed triage vocabularies. Matching is substring based on normalized text,
// so short stems deliberately cover their inflected phrases.
var (
	HighRiskTerms = []string{"自杀", "想死", "轻生", "自残", "割腕"}

	MediumRiskGroups = []TermGroup{
		{Name: "exhaustion", Terms: []string{"好累", "很累", "太累", "没劲", "乏了", "顶不", "撑不", "扛不", "受不", "吃不", "睡不"}},
		{Name: "meaninglessness", Terms: []string{"没意", "无用", "不值", "算了", "白干", "没用", "没啥"}},
		{Name: "escape", Terms: []string{"想逃", "想躲", "不想", "消失", "走开", "别管"}},
		{Name: "numbness", Terms: []string{"麻木", "空了", "空虚", "没感", "无感", "发呆"}},
	}

	// IntensityMarkers upgrade a single medium hit to MEDIUM.
	IntensityMarkers = []string{"…", "...", "！", "!", "算了吧"}

	// RefusalMarkers are policy-refusal phrasings the model tends to leak in
	// English despite being told to answer in Chinese.
	RefusalMarkers = []string{
		"i’m sorry", "i'm sorry", "sorry", "i can't help", "i cannot help",
		"can't help with that", "cannot help with that",
		"i can’t help", "i cannot comply", "i can’t comply",
		"policy", "policies", "not allowed", "disallowed", "cannot provide",
		"i can't provide", "i cannot provide",
	}
)

// TermGroup is a named set of vocabulary terms.
type TermGroup struct {
	Name  string
	Terms []string
}

type normalizedTerm struct {
	group string
	term  string
}

var (
	highRiskNorm   = normalizeAll(HighRiskTerms)
	markersNorm    = normalizeAll(IntensityMarkers)
	refusalNorm    = normalizeAll(RefusalMarkers)
	mediumRiskNorm = normalizeGroups(MediumRiskGroups)
)

func normalizeGroups(groups []TermGroup) []normalizedTerm {
	var out []normalizedTerm
	seen := make(map[string]struct{})
	for _, g := range groups {
		for _, t := range normalizeAll(g.Terms) {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, normalizedTerm{group: g.Name, term: t})
		}
	}
	return out
}
