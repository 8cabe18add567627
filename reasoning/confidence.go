package reasoning

import "strings"

// hedges lower confidence when an answer admits the context is thin.
var hedges = []string{
	"찾을 수 없", "확인할 수 없", "명시되어 있지 않", "알 수 없",
	"not found", "cannot determine", "unclear",
}

// estimateConfidence blends the model's stated confidence (negative when
// absent) with how many of its citations point into the context.
func estimateConfidence(answer string, stated float64, cites []Citation) float64 {
	if strings.TrimSpace(answer) == "" {
		return 0
	}

	score := 0.5
	if stated >= 0 && stated <= 1 {
		score = stated
	}

	if len(cites) > 0 {
		verified := 0
		for _, c := range cites {
			if c.Verified {
				verified++
			}
		}
		accuracy := float64(verified) / float64(len(cites))
		score = 0.6*score + 0.4*accuracy
	} else {
		score -= 0.1
	}

	lower := strings.ToLower(answer)
	for _, h := range hedges {
		if strings.Contains(lower, h) {
			score -= 0.1
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}
