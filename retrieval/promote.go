package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/brunobiangulo/policygraph/clause"
	"github.com/brunobiangulo/policygraph/store"
)

// Owner resolves the article a node belongs to.
type Owner interface {
	OwningArticle(ctx context.Context, versionID string, ref clause.Ref) (*store.Node, error)
}

// Provenance is one located node that promoted to a candidate article.
type Provenance struct {
	Ref   clause.Ref `json:"ref"`
	Score float64    `json:"score"`
}

// Candidate is an article proposed for selection together with the nodes
// that led to it.
type Candidate struct {
	Article store.Node `json:"article"`
	// Score is the best score among the provenance entries.
	Score      float64      `json:"score"`
	Provenance []Provenance `json:"provenance"`
}

type articleKey struct {
	version string
	id      string
}

// Promote maps every hit to its owning article. Hits sharing an article are
// merged into one candidate whose provenance lists each of them; candidates
// keep the order in which their article was first reached, so with hits
// sorted by score the first candidate is the best one.
//
// Hits whose owner no longer exists are skipped. Any other lookup failure
// is returned.
func Promote(ctx context.Context, o Owner, hits []store.ScoredNode) ([]Candidate, error) {
	var out []Candidate
	pos := make(map[articleKey]int)

	for _, h := range hits {
		owner, err := o.OwningArticle(ctx, h.VersionID, h.Ref)
		if errors.Is(err, store.ErrNotFound) {
			slog.Debug("retrieve: hit without owning article", "node", h.Ref.String(), "version", h.VersionID)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("promoting %s: %w", h.Ref, err)
		}

		p := Provenance{Ref: h.Ref, Score: h.Score}
		key := articleKey{version: owner.VersionID, id: owner.Ref.ID}
		if i, ok := pos[key]; ok {
			out[i].Provenance = append(out[i].Provenance, p)
			if h.Score > out[i].Score {
				out[i].Score = h.Score
			}
			continue
		}
		pos[key] = len(out)
		out = append(out, Candidate{Article: *owner, Score: h.Score, Provenance: []Provenance{p}})
	}
	return out, nil
}
