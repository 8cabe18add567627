package reasoning

import (
	"strings"

	"github.com/brunobiangulo/policygraph/clause"
	"github.com/brunobiangulo/policygraph/retrieval"
)

// Citation is a clause an answer relies on.
type Citation struct {
	ClauseID string `json:"clause_id"`
	Title    string `json:"title,omitempty"`
	Text     string `json:"text,omitempty"`
	// Verified reports whether the cited clause was part of the context.
	Verified bool `json:"verified"`
}

// ExtractCitations finds clause identifiers written in an answer, at the
// most specific granularity each was written with.
func ExtractCitations(answer string) []Citation {
	refs := clause.FindReferences(answer)
	if len(refs) == 0 {
		return nil
	}
	// An item citation also matches the paragraph pattern; report the item
	// only.
	itemParents := make(map[string]bool)
	for _, r := range refs {
		if r.Kind == clause.KindItem {
			itemParents[r.ID[:strings.LastIndex(r.ID, "제")]] = true
		}
	}
	var out []Citation
	for _, r := range refs {
		if r.Kind == clause.KindParagraph && itemParents[r.ID] {
			continue
		}
		out = append(out, Citation{ClauseID: r.ID})
	}
	return out
}

// VerifyCitations marks the citations that point into c. A unit inside a
// rendered article counts as present, since the article's full text was
// in the context.
func VerifyCitations(cites []Citation, c *retrieval.Context) {
	units := make(map[string]bool)
	articles := make(map[string]bool)
	for _, u := range append(append([]retrieval.Unit(nil), c.Sources...), c.References...) {
		units[u.ID] = true
		if u.Kind == clause.KindArticle {
			articles[u.ID] = true
		}
	}
	for i := range cites {
		id := strings.TrimSpace(cites[i].ClauseID)
		cites[i].Verified = units[id] || articles[articleOf(id)]
	}
}

// articleOf returns the article part of an identifier: "제3조제2항" → "제3조".
func articleOf(id string) string {
	if i := strings.Index(id, "조"); i >= 0 {
		return id[:i+len("조")]
	}
	return id
}
