package clause

import (
	"fmt"
	"log/slog"
)

// Article is a top-level numbered clause.
type Article struct {
	ID          string `json:"id"`
	Number      int    `json:"number"`
	Title       string `json:"title"`
	Text        string `json:"text"`
	Hint        Hint   `json:"hint,omitempty"`
	Section     string `json:"section,omitempty"`
	SectionPath string `json:"section_path"`
	Paragraphs  []int  `json:"-"`
}

// Paragraph is a circled-digit subdivision of exactly one Article.
type Paragraph struct {
	ID        string `json:"id"`
	Number    int    `json:"number"`
	Text      string `json:"text"`
	Synthetic bool   `json:"synthetic,omitempty"`
	Article   int    `json:"-"`
	Items     []int  `json:"-"`
}

// Item is a decimal-numbered subdivision of exactly one Paragraph.
type Item struct {
	ID        string `json:"id"`
	Number    int    `json:"number"`
	Text      string `json:"text"`
	Paragraph int    `json:"-"`
}

// Node addresses one entity inside a Document by kind and slice index.
type Node struct {
	Kind  Kind
	Index int
}

// Reference is a REFERS_TO edge between two nodes of the same Document.
// Source is always a Paragraph or an Item.
type Reference struct {
	Source Node
	Target Node
}

// Document is the arena holding one parsed document version. Parent links
// are slice indices; every index is checked by Validate.
type Document struct {
	Articles   []Article
	Paragraphs []Paragraph
	Items      []Item
	References []Reference

	// Unresolved counts citations that named a unit absent from the document.
	Unresolved int

	index map[Ref]Node
}

func newDocument() *Document {
	return &Document{index: make(map[Ref]Node)}
}

// Lookup finds the node carrying ref's identifier.
func (d *Document) Lookup(ref Ref) (Node, bool) {
	n, ok := d.index[ref]
	return n, ok
}

// Ref returns the tagged identifier of a node.
func (d *Document) Ref(n Node) Ref {
	switch n.Kind {
	case KindArticle:
		return ArticleRef(d.Articles[n.Index].ID)
	case KindParagraph:
		return ParagraphRef(d.Paragraphs[n.Index].ID)
	case KindItem:
		return ItemRef(d.Items[n.Index].ID)
	}
	return Ref{}
}

// Text returns the node's own text.
func (d *Document) Text(n Node) string {
	switch n.Kind {
	case KindArticle:
		return d.Articles[n.Index].Text
	case KindParagraph:
		return d.Paragraphs[n.Index].Text
	case KindItem:
		return d.Items[n.Index].Text
	}
	return ""
}

// OwningArticle returns the index of the article a node belongs to.
func (d *Document) OwningArticle(n Node) int {
	switch n.Kind {
	case KindParagraph:
		return d.Paragraphs[n.Index].Article
	case KindItem:
		return d.Paragraphs[d.Items[n.Index].Paragraph].Article
	}
	return n.Index
}

// Substructure returns copies of the paragraphs and items owned by article a.
func (d *Document) Substructure(a int) ([]Paragraph, []Item) {
	if a < 0 || a >= len(d.Articles) {
		return nil, nil
	}
	var (
		paragraphs []Paragraph
		items      []Item
	)
	for _, pi := range d.Articles[a].Paragraphs {
		p := d.Paragraphs[pi]
		paragraphs = append(paragraphs, p)
		for _, ii := range p.Items {
			items = append(items, d.Items[ii])
		}
	}
	return paragraphs, items
}

// Validate checks referential closure: every parent index points at an
// emitted entity, every article has a paragraph and identifiers are unique.
func (d *Document) Validate() error {
	seen := make(map[Ref]bool, len(d.Articles)+len(d.Paragraphs)+len(d.Items))
	check := func(r Ref) error {
		if seen[r] {
			return fmt.Errorf("clause: duplicate identifier %s", r)
		}
		seen[r] = true
		return nil
	}
	for _, a := range d.Articles {
		if err := check(ArticleRef(a.ID)); err != nil {
			return err
		}
		if len(a.Paragraphs) == 0 {
			return fmt.Errorf("clause: article %s has no paragraphs", a.ID)
		}
	}
	for i, p := range d.Paragraphs {
		if err := check(ParagraphRef(p.ID)); err != nil {
			return err
		}
		if p.Article < 0 || p.Article >= len(d.Articles) {
			return fmt.Errorf("clause: paragraph %s has dangling article index %d", p.ID, p.Article)
		}
		if !containsIndex(d.Articles[p.Article].Paragraphs, i) {
			return fmt.Errorf("clause: paragraph %s not listed by article %s", p.ID, d.Articles[p.Article].ID)
		}
	}
	for i, it := range d.Items {
		if err := check(ItemRef(it.ID)); err != nil {
			return err
		}
		if it.Paragraph < 0 || it.Paragraph >= len(d.Paragraphs) {
			return fmt.Errorf("clause: item %s has dangling paragraph index %d", it.ID, it.Paragraph)
		}
		if !containsIndex(d.Paragraphs[it.Paragraph].Items, i) {
			return fmt.Errorf("clause: item %s not listed by paragraph %s", it.ID, d.Paragraphs[it.Paragraph].ID)
		}
	}
	for _, r := range d.References {
		if r.Source.Kind == KindArticle {
			return fmt.Errorf("clause: reference sourced from article %s", d.Ref(r.Source))
		}
		if !d.inRange(r.Source) || !d.inRange(r.Target) {
			return fmt.Errorf("clause: reference with dangling node %v -> %v", r.Source, r.Target)
		}
	}
	return nil
}

func (d *Document) inRange(n Node) bool {
	switch n.Kind {
	case KindArticle:
		return n.Index >= 0 && n.Index < len(d.Articles)
	case KindParagraph:
		return n.Index >= 0 && n.Index < len(d.Paragraphs)
	case KindItem:
		return n.Index >= 0 && n.Index < len(d.Items)
	}
	return false
}

func containsIndex(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Arena construction
// ---------------------------------------------------------------------------

// addArticle appends an article unless its identifier is taken. It reports
// the new index, or -1 when the article was dropped.
func (d *Document) addArticle(a Article) int {
	ref := ArticleRef(a.ID)
	if _, dup := d.index[ref]; dup {
		slog.Warn("clause: duplicate article dropped", "id", a.ID, "section", a.Section)
		return -1
	}
	i := len(d.Articles)
	d.Articles = append(d.Articles, a)
	d.index[ref] = Node{Kind: KindArticle, Index: i}
	return i
}

func (d *Document) addParagraph(p Paragraph) int {
	ref := ParagraphRef(p.ID)
	if _, dup := d.index[ref]; dup {
		slog.Warn("clause: duplicate paragraph dropped", "id", p.ID)
		return -1
	}
	i := len(d.Paragraphs)
	d.Paragraphs = append(d.Paragraphs, p)
	d.Articles[p.Article].Paragraphs = append(d.Articles[p.Article].Paragraphs, i)
	d.index[ref] = Node{Kind: KindParagraph, Index: i}
	return i
}

func (d *Document) addItem(it Item) int {
	ref := ItemRef(it.ID)
	if _, dup := d.index[ref]; dup {
		slog.Warn("clause: duplicate item dropped", "id", it.ID)
		return -1
	}
	i := len(d.Items)
	d.Items = append(d.Items, it)
	d.Paragraphs[it.Paragraph].Items = append(d.Paragraphs[it.Paragraph].Items, i)
	d.index[ref] = Node{Kind: KindItem, Index: i}
	return i
}
