package eval

import (
	"strings"
	"unicode"

	"github.com/brunobiangulo/policygraph"
)

// normalizeLLMText normalizes Unicode characters commonly inserted by LLMs
// so that substring matching works reliably: Unicode spaces become ASCII
// spaces, Unicode hyphens become '-', zero-width characters are dropped.
func normalizeLLMText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		case r == '\u2010' || r == '\u2011' || r == '\u2012' || r == '\u2013' || r == '\u2014':
			b.WriteByte('-')
		case r == '\u200B' || r == '\u200C' || r == '\u200D' || r == '\uFEFF':
			// drop
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// candidateRank returns the 1-based position of articleID among the
// promoted candidates, or 0 when it was never a candidate.
func candidateRank(res *policygraph.Result, articleID string) int {
	for i, c := range res.Candidates {
		if c.Article.Ref.ID == articleID {
			return i + 1
		}
	}
	return 0
}

// evidenceText is what expected facts are checked against: the answer when
// one was generated, the assembled context otherwise.
func evidenceText(res *policygraph.Result) string {
	if res.Answer != nil && res.Answer.Text != "" {
		return res.Answer.Text
	}
	if res.Context != nil {
		return res.Context.Text
	}
	return ""
}

// computeAccuracy returns the fraction of expected facts found in text.
// Korean spacing varies ("보험 금" vs "보험금"), so a spaceless comparison
// also counts.
func computeAccuracy(text string, expectedFacts []string) float64 {
	if text == "" || len(expectedFacts) == 0 {
		return 0
	}

	normalized := normalizeLLMText(strings.ToLower(text))
	spaceless := strings.ReplaceAll(normalized, " ", "")
	found := 0
	for _, fact := range expectedFacts {
		for _, alt := range strings.Split(fact, "|") {
			alt = strings.TrimSpace(alt)
			if alt == "" {
				continue
			}
			normAlt := normalizeLLMText(strings.ToLower(alt))
			if strings.Contains(normalized, normAlt) ||
				strings.Contains(spaceless, strings.ReplaceAll(normAlt, " ", "")) {
				found++
				break
			}
		}
	}
	return float64(found) / float64(len(expectedFacts))
}

// computeCitationQuality is the share of answer citations that point into
// the assembled context. Results without an answer or citations score 0.
func computeCitationQuality(res *policygraph.Result) float64 {
	if res.Answer == nil || len(res.Answer.Citations) == 0 {
		return 0
	}
	verified := 0
	for _, c := range res.Answer.Citations {
		if c.Verified {
			verified++
		}
	}
	return float64(verified) / float64(len(res.Answer.Citations))
}
