// Package retrieval finds the policy article that answers a query: it scores
// every granularity against the query vector, promotes the hits to their
// owning articles and assembles the chosen article with everything it cites.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/policygraph/clause"
	"github.com/brunobiangulo/policygraph/store"
)

// Graph is the read side of the policy graph used at query time.
// *store.Store satisfies it.
type Graph interface {
	ScoreNodes(ctx context.Context, kind clause.Kind, query []float32, k int, versionID string) ([]store.ScoredNode, error)
	GetNode(ctx context.Context, versionID string, ref clause.Ref) (*store.Node, error)
	OwningArticle(ctx context.Context, versionID string, ref clause.Ref) (*store.Node, error)
	ArticleReferences(ctx context.Context, versionID, articleID string) ([]store.Edge, error)
}

// LocateOptions configures a single Locate call.
type LocateOptions struct {
	TopK int
	// VersionID restricts scoring to one version; empty scores all of them.
	VersionID string
}

// LocateTrace records how the merged candidate list was built.
type LocateTrace struct {
	PerKind   map[string]int `json:"per_kind"`
	Merged    int            `json:"merged"`
	Kept      int            `json:"kept"`
	TopK      int            `json:"top_k"`
	ElapsedMs int64          `json:"elapsed_ms"`
}

// Locator ranks nodes of every granularity against a query vector.
type Locator struct {
	graph Graph
	kinds []clause.Kind
}

// NewLocator creates a locator scoring articles, paragraphs and items.
func NewLocator(g Graph) *Locator {
	return &Locator{graph: g, kinds: clause.Kinds}
}

const defaultTopK = 10

// Locate scores each label independently, keeps the best TopK of each,
// then merges them and keeps the global best TopK, highest score first.
// Ties keep label order (articles, then paragraphs, then items).
func (l *Locator) Locate(ctx context.Context, query []float32, opts LocateOptions) ([]store.ScoredNode, *LocateTrace, error) {
	if opts.TopK <= 0 {
		opts.TopK = defaultTopK
	}
	start := time.Now()
	trace := &LocateTrace{PerKind: make(map[string]int, len(l.kinds)), TopK: opts.TopK}

	perKind := make([][]store.ScoredNode, len(l.kinds))
	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range l.kinds {
		g.Go(func() error {
			hits, err := l.graph.ScoreNodes(gctx, kind, query, opts.TopK, opts.VersionID)
			if err != nil {
				return fmt.Errorf("scoring %s nodes: %w", kind, err)
			}
			perKind[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var merged []store.ScoredNode
	for i, hits := range perKind {
		trace.PerKind[l.kinds[i].String()] = len(hits)
		merged = append(merged, hits...)
	}
	trace.Merged = len(merged)

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > opts.TopK {
		merged = merged[:opts.TopK]
	}
	trace.Kept = len(merged)
	trace.ElapsedMs = time.Since(start).Milliseconds()

	slog.Debug("retrieve: located candidates",
		"per_kind", trace.PerKind, "merged", trace.Merged, "kept", trace.Kept,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return merged, trace, nil
}
