package store

import (
	"context"
	"log/slog"

	"github.com/brunobiangulo/policygraph/clause"
)

// Vectors holds one embedding per arena node, aligned with the slices of a
// clause.Document. A nil entry means the node has no embedding.
type Vectors struct {
	Articles   [][]float32
	Paragraphs [][]float32
	Items      [][]float32
}

func (v *Vectors) get(n clause.Node) []float32 {
	if v == nil {
		return nil
	}
	var s [][]float32
	switch n.Kind {
	case clause.KindArticle:
		s = v.Articles
	case clause.KindParagraph:
		s = v.Paragraphs
	case clause.KindItem:
		s = v.Items
	}
	if n.Index < 0 || n.Index >= len(s) {
		return nil
	}
	return s[n.Index]
}

// WriteStats counts what a projection wrote.
type WriteStats struct {
	Articles   int `json:"articles"`
	Paragraphs int `json:"paragraphs"`
	Items      int `json:"items"`
	References int `json:"references"`
	Embeddings int `json:"embeddings"`
	Sections   int `json:"sections"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// Nodes returns the number of nodes written.
func (w WriteStats) Nodes() int { return w.Articles + w.Paragraphs + w.Items }

// WriteObserver is told about every node write; it may be nil.
type WriteObserver func(kind clause.Kind, ok bool)

// WriteDocument projects an arena into the graph: article nodes under the
// version, HAS_PARAGRAPH and HAS_ITEM children, REFERS_TO edges and the
// node embeddings. Every entity is written independently; a failed write is
// logged and skipped, and children of a failed parent are skipped with it.
// Only a cancelled context stops the batch early.
func (s *Store) WriteDocument(ctx context.Context, versionID string, doc *clause.Document, vecs *Vectors, observe WriteObserver) (WriteStats, error) {
	var st WriteStats
	note := func(kind clause.Kind, ok bool) {
		if observe != nil {
			observe(kind, ok)
		}
	}
	embed := func(n clause.Node, row int64) {
		v := vecs.get(n)
		if v == nil {
			return
		}
		if err := s.SetEmbedding(ctx, n.Kind, row, v); err != nil {
			st.Failed++
			slog.Warn("ingest: embedding write failed", "version", versionID,
				"node", doc.Ref(n).String(), "error", err)
			return
		}
		st.Embeddings++
	}

	sections := make(map[string]int64)
	articleRows := make([]int64, len(doc.Articles))
	paragraphRows := make([]int64, len(doc.Paragraphs))

	for i, a := range doc.Articles {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		var sectionID int64
		if a.Section != "" {
			id, ok := sections[a.Section]
			if !ok {
				var err error
				id, err = s.UpsertSpecialSection(ctx, versionID, a.Section)
				if err != nil {
					slog.Warn("ingest: special section write failed", "version", versionID,
						"section", a.Section, "error", err)
				} else {
					sections[a.Section] = id
					st.Sections++
				}
			}
			sectionID = id
		}

		row, err := s.UpsertArticle(ctx, versionID, ArticleRecord{
			ID:          a.ID,
			Number:      a.Number,
			Title:       a.Title,
			Text:        a.Text,
			ClauseType:  string(a.Hint),
			SectionID:   sectionID,
			SectionPath: a.SectionPath,
			Position:    i,
		})
		if err != nil {
			st.Failed++
			note(clause.KindArticle, false)
			slog.Warn("ingest: article write failed", "version", versionID, "article", a.ID, "error", err)
			continue
		}
		articleRows[i] = row
		st.Articles++
		note(clause.KindArticle, true)
		embed(clause.Node{Kind: clause.KindArticle, Index: i}, row)
	}

	for i, p := range doc.Paragraphs {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		parent := articleRows[p.Article]
		if parent == 0 {
			st.Skipped++
			continue
		}
		row, err := s.UpsertParagraph(ctx, versionID, parent, p)
		if err != nil {
			st.Failed++
			note(clause.KindParagraph, false)
			slog.Warn("ingest: paragraph write failed", "version", versionID, "paragraph", p.ID, "error", err)
			continue
		}
		paragraphRows[i] = row
		st.Paragraphs++
		note(clause.KindParagraph, true)
		embed(clause.Node{Kind: clause.KindParagraph, Index: i}, row)
	}

	for i, it := range doc.Items {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		parent := paragraphRows[it.Paragraph]
		if parent == 0 {
			st.Skipped++
			continue
		}
		row, err := s.UpsertItem(ctx, versionID, parent, it)
		if err != nil {
			st.Failed++
			note(clause.KindItem, false)
			slog.Warn("ingest: item write failed", "version", versionID, "item", it.ID, "error", err)
			continue
		}
		st.Items++
		note(clause.KindItem, true)
		embed(clause.Node{Kind: clause.KindItem, Index: i}, row)
	}

	for _, r := range doc.References {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		src, dst := doc.Ref(r.Source), doc.Ref(r.Target)
		created, err := s.InsertReference(ctx, versionID, src, dst)
		if err != nil {
			st.Failed++
			slog.Warn("ingest: reference write failed", "version", versionID,
				"source", src.ID, "target", dst.ID, "error", err)
			continue
		}
		if created {
			st.References++
		}
	}

	return st, nil
}
