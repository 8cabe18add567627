package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/brunobiangulo/policygraph/clause"
	"github.com/brunobiangulo/policygraph/store"
)

// Unit describes a node that contributed a block to an assembled context.
type Unit struct {
	Kind      clause.Kind `json:"kind"`
	ID        string      `json:"id"`
	Title     string      `json:"title,omitempty"`
	VersionID string      `json:"version_id"`
}

func unitOf(n store.Node) Unit {
	return Unit{Kind: n.Ref.Kind, ID: n.Ref.ID, Title: n.Title, VersionID: n.VersionID}
}

// Context is a selected article rendered with every unit it cites.
type Context struct {
	Text string `json:"text"`
	// Sources holds the selected article.
	Sources []Unit `json:"sources"`
	// References holds the units pulled in through REFERS_TO edges, in
	// rendering order.
	References []Unit `json:"references"`
}

// Assembler expands a selected article into an answerable context.
type Assembler struct {
	graph Graph
}

// NewAssembler creates an assembler reading from g.
func NewAssembler(g Graph) *Assembler {
	return &Assembler{graph: g}
}

// Assemble renders the article first, then the targets of REFERS_TO edges
// leaving its paragraphs, then those leaving its items. A unit is rendered
// at most once.
func (a *Assembler) Assemble(ctx context.Context, versionID, articleID string) (*Context, error) {
	article, err := a.graph.GetNode(ctx, versionID, clause.ArticleRef(articleID))
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", articleID, err)
	}
	edges, err := a.graph.ArticleReferences(ctx, versionID, articleID)
	if err != nil {
		return nil, fmt.Errorf("expanding %s: %w", articleID, err)
	}
	return render(*article, edges), nil
}

func render(article store.Node, edges []store.Edge) *Context {
	var b strings.Builder
	seen := map[clause.Ref]bool{article.Ref: true}
	out := &Context{Sources: []Unit{unitOf(article)}}

	fmt.Fprintf(&b, "# %s: %s\n\n%s\n\n", article.Ref.ID, article.Title, article.Text)

	// Edges arrive paragraph-sourced first, so discovery order is kept.
	for _, e := range edges {
		t := e.Target
		if seen[t.Ref] {
			continue
		}
		seen[t.Ref] = true
		if t.Ref.Kind == clause.KindArticle {
			fmt.Fprintf(&b, "## [참조] %s: %s\n\n%s\n\n", t.Ref.ID, t.Title, t.Text)
		} else {
			fmt.Fprintf(&b, "## [참조] %s\n\n%s\n\n", t.Ref.ID, t.Text)
		}
		out.References = append(out.References, unitOf(t))
	}

	out.Text = b.String()
	return out
}
