package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/policygraph/clause"
	"github.com/brunobiangulo/policygraph/store"
)

const ver = "v1"

// fakeGraph is an in-memory Graph with canned scores.
type fakeGraph struct {
	scores   map[clause.Kind][]store.ScoredNode
	nodes    map[clause.Ref]store.Node
	owners   map[clause.Ref]clause.Ref
	edges    map[string][]store.Edge
	scoreErr error
	asked    map[clause.Kind]int
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{
		scores: make(map[clause.Kind][]store.ScoredNode),
		nodes:  make(map[clause.Ref]store.Node),
		owners: make(map[clause.Ref]clause.Ref),
		edges:  make(map[string][]store.Edge),
		asked:  make(map[clause.Kind]int),
	}
}

func (f *fakeGraph) add(ref clause.Ref, title, text string, owner clause.Ref) store.Node {
	n := store.Node{VersionID: ver, Ref: ref, Title: title, Text: text}
	f.nodes[ref] = n
	f.owners[ref] = owner
	return n
}

func (f *fakeGraph) ScoreNodes(_ context.Context, kind clause.Kind, _ []float32, k int, _ string) ([]store.ScoredNode, error) {
	if f.scoreErr != nil && kind == clause.KindItem {
		return nil, f.scoreErr
	}
	f.asked[kind] = k
	hits := f.scores[kind]
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (f *fakeGraph) GetNode(_ context.Context, _ string, ref clause.Ref) (*store.Node, error) {
	n, ok := f.nodes[ref]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ref, store.ErrNotFound)
	}
	return &n, nil
}

func (f *fakeGraph) OwningArticle(ctx context.Context, v string, ref clause.Ref) (*store.Node, error) {
	owner, ok := f.owners[ref]
	if !ok {
		return nil, fmt.Errorf("owner of %s: %w", ref, store.ErrNotFound)
	}
	return f.GetNode(ctx, v, owner)
}

func (f *fakeGraph) ArticleReferences(_ context.Context, _ string, articleID string) ([]store.Edge, error) {
	return f.edges[articleID], nil
}

func scored(n store.Node, score float64) store.ScoredNode {
	return store.ScoredNode{Node: n, Score: score}
}

func TestLocateMergesAndKeepsGlobalTopK(t *testing.T) {
	g := newFakeGraph()
	a1 := g.add(clause.ArticleRef("제1조"), "보상", "a1", clause.ArticleRef("제1조"))
	a2 := g.add(clause.ArticleRef("제2조"), "면책", "a2", clause.ArticleRef("제2조"))
	p1 := g.add(clause.ParagraphRef("제1조제1항"), "", "p1", a1.Ref)
	i1 := g.add(clause.ItemRef("제1조제1항제1호"), "", "i1", a1.Ref)
	g.scores[clause.KindArticle] = []store.ScoredNode{scored(a1, 0.5), scored(a2, 0.2)}
	g.scores[clause.KindParagraph] = []store.ScoredNode{scored(p1, 0.9)}
	g.scores[clause.KindItem] = []store.ScoredNode{scored(i1, 0.7)}

	hits, trace, err := NewLocator(g).Locate(context.Background(), []float32{1}, LocateOptions{TopK: 3})
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, []string{"제1조제1항", "제1조제1항제1호", "제1조"},
		[]string{hits[0].Ref.ID, hits[1].Ref.ID, hits[2].Ref.ID})
	assert.Equal(t, 4, trace.Merged)
	assert.Equal(t, 3, trace.Kept)
	assert.Equal(t, 2, trace.PerKind["article"])
	for _, k := range clause.Kinds {
		assert.Equal(t, 3, g.asked[k], "per-label k for %s", k)
	}
}

func TestLocateDefaultsAndTies(t *testing.T) {
	g := newFakeGraph()
	a := g.add(clause.ArticleRef("제1조"), "", "", clause.ArticleRef("제1조"))
	p := g.add(clause.ParagraphRef("제1조제1항"), "", "", a.Ref)
	g.scores[clause.KindArticle] = []store.ScoredNode{scored(a, 0.5)}
	g.scores[clause.KindParagraph] = []store.ScoredNode{scored(p, 0.5)}

	hits, trace, err := NewLocator(g).Locate(context.Background(), nil, LocateOptions{})
	require.NoError(t, err)
	assert.Equal(t, defaultTopK, trace.TopK)
	require.Len(t, hits, 2)
	assert.Equal(t, clause.KindArticle, hits[0].Ref.Kind, "ties keep label order")
}

func TestLocateEmpty(t *testing.T) {
	hits, _, err := NewLocator(newFakeGraph()).Locate(context.Background(), nil, LocateOptions{TopK: 5})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestLocatePropagatesScoringError(t *testing.T) {
	g := newFakeGraph()
	g.scoreErr = errors.New("vec table gone")
	_, _, err := NewLocator(g).Locate(context.Background(), nil, LocateOptions{TopK: 5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scoring item nodes")
}

func TestPromoteDeduplicatesSiblings(t *testing.T) {
	g := newFakeGraph()
	a := g.add(clause.ArticleRef("제1조"), "보상하는 손해", "a", clause.ArticleRef("제1조"))
	p := g.add(clause.ParagraphRef("제1조제1항"), "", "p", a.Ref)
	i := g.add(clause.ItemRef("제1조제1항제2호"), "", "i", a.Ref)

	cands, err := Promote(context.Background(), g, []store.ScoredNode{scored(p, 0.8), scored(i, 0.6)})
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "제1조", cands[0].Article.Ref.ID)
	assert.Equal(t, 0.8, cands[0].Score)
	assert.Equal(t, []Provenance{
		{Ref: p.Ref, Score: 0.8},
		{Ref: i.Ref, Score: 0.6},
	}, cands[0].Provenance)
}

func TestPromoteKeepsFirstReachedOrder(t *testing.T) {
	g := newFakeGraph()
	a1 := g.add(clause.ArticleRef("제1조"), "", "", clause.ArticleRef("제1조"))
	a2 := g.add(clause.ArticleRef("제2조"), "", "", clause.ArticleRef("제2조"))
	p2 := g.add(clause.ParagraphRef("제2조제1항"), "", "", a2.Ref)
	orphan := store.Node{VersionID: ver, Ref: clause.ItemRef("제9조제1항제1호")}

	cands, err := Promote(context.Background(), g, []store.ScoredNode{
		scored(p2, 0.9), scored(orphan, 0.85), scored(a1, 0.7), scored(a2, 0.6),
	})
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, "제2조", cands[0].Article.Ref.ID)
	assert.Len(t, cands[0].Provenance, 2)
	assert.Equal(t, "제1조", cands[1].Article.Ref.ID)
}

type failingOwner struct{}

func (failingOwner) OwningArticle(context.Context, string, clause.Ref) (*store.Node, error) {
	return nil, errors.New("connection reset")
}

func TestPromotePropagatesLookupError(t *testing.T) {
	_, err := Promote(context.Background(), failingOwner{}, []store.ScoredNode{
		{Node: store.Node{Ref: clause.ArticleRef("제1조")}},
	})
	assert.Error(t, err)
}

func TestAssembleRendersArticleThenReferences(t *testing.T) {
	g := newFakeGraph()
	a1 := g.add(clause.ArticleRef("제1조"), "보상하는 손해", "회사는 보상합니다.", clause.ArticleRef("제1조"))
	a3 := g.add(clause.ArticleRef("제3조"), "용어의 정의", "화재란 ...", clause.ArticleRef("제3조"))
	p2 := g.add(clause.ParagraphRef("제2조제1항"), "", "면책 사유", clause.ArticleRef("제2조"))
	g.edges["제1조"] = []store.Edge{
		{Source: clause.ParagraphRef("제1조제1항"), Target: a3},
		{Source: clause.ItemRef("제1조제1항제1호"), Target: p2},
	}

	c, err := NewAssembler(g).Assemble(context.Background(), ver, "제1조")
	require.NoError(t, err)
	want := "# 제1조: 보상하는 손해\n\n회사는 보상합니다.\n\n" +
		"## [참조] 제3조: 용어의 정의\n\n화재란 ...\n\n" +
		"## [참조] 제2조제1항\n\n면책 사유\n\n"
	assert.Equal(t, want, c.Text)
	assert.Equal(t, []Unit{unitOf(a1)}, c.Sources)
	assert.Equal(t, []Unit{unitOf(a3), unitOf(p2)}, c.References)
}

func TestAssembleNeverRepeatsAUnit(t *testing.T) {
	g := newFakeGraph()
	a1 := g.add(clause.ArticleRef("제1조"), "보상", "본문", clause.ArticleRef("제1조"))
	a2 := g.add(clause.ArticleRef("제2조"), "면책", "면책 본문", clause.ArticleRef("제2조"))
	g.edges["제1조"] = []store.Edge{
		{Source: clause.ParagraphRef("제1조제1항"), Target: a2},
		{Source: clause.ParagraphRef("제1조제2항"), Target: a2},
		{Source: clause.ItemRef("제1조제2항제1호"), Target: a2},
		// a unit citing its own article
		{Source: clause.ItemRef("제1조제2항제2호"), Target: a1},
	}

	c, err := NewAssembler(g).Assemble(context.Background(), ver, "제1조")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(c.Text, "제2조: 면책"))
	assert.Equal(t, 1, strings.Count(c.Text, "제1조: 보상"))
	assert.Len(t, c.References, 1)

	ids := map[string]int{}
	for _, u := range append(c.Sources, c.References...) {
		ids[u.ID]++
	}
	for id, n := range ids {
		assert.Equal(t, 1, n, "unit %s rendered %d times", id, n)
	}
}

func TestAssembleMissingArticle(t *testing.T) {
	_, err := NewAssembler(newFakeGraph()).Assemble(context.Background(), ver, "제7조")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
