package clause

import (
	"regexp"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Cross-reference detection
// ---------------------------------------------------------------------------

var (
	// articleCitePattern matches "제5조". Matches that continue into a
	// paragraph citation or a branch article ("제5조의2") are discarded by
	// articleCitationEnds.
	articleCitePattern = regexp.MustCompile(`제\s*(\d+)\s*조`)

	paragraphCitePattern = regexp.MustCompile(`제\s*(\d+)\s*조\s*제\s*(\d+)\s*항`)

	itemCitePattern = regexp.MustCompile(`제\s*(\d+)\s*조\s*제\s*(\d+)\s*항\s*제\s*(\d+)\s*호`)

	paragraphTailPattern = regexp.MustCompile(`^\s*제\s*\d+\s*항`)
	branchTailPattern    = regexp.MustCompile(`^의\s*\d`)
)

// citation is one resolved reference found in a text, with the byte offset
// of its first match.
type citation struct {
	Target Ref
	Offset int
}

// articleCitationEnds reports whether the text following an article match
// closes the citation at article granularity.
func articleCitationEnds(rest string) bool {
	return !paragraphTailPattern.MatchString(rest) && !branchTailPattern.MatchString(rest)
}

func atoi(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	return n, err == nil && n > 0
}

// findCitations applies the article, paragraph and item patterns
// independently and returns every distinct target in that order.
func findCitations(text string) []citation {
	var out []citation
	seen := make(map[Ref]bool)
	add := func(r Ref, off int) {
		if seen[r] {
			return
		}
		seen[r] = true
		out = append(out, citation{Target: r, Offset: off})
	}

	for _, m := range articleCitePattern.FindAllStringSubmatchIndex(text, -1) {
		if !articleCitationEnds(text[m[1]:]) {
			continue
		}
		if n, ok := atoi(text[m[2]:m[3]]); ok {
			add(ArticleRef(ArticleID(n)), m[0])
		}
	}
	for _, m := range paragraphCitePattern.FindAllStringSubmatchIndex(text, -1) {
		a, ok1 := atoi(text[m[2]:m[3]])
		p, ok2 := atoi(text[m[4]:m[5]])
		if ok1 && ok2 {
			add(ParagraphRef(ParagraphID(ArticleID(a), p)), m[0])
		}
	}
	for _, m := range itemCitePattern.FindAllStringSubmatchIndex(text, -1) {
		a, ok1 := atoi(text[m[2]:m[3]])
		p, ok2 := atoi(text[m[4]:m[5]])
		i, ok3 := atoi(text[m[6]:m[7]])
		if ok1 && ok2 && ok3 {
			add(ItemRef(ItemID(ParagraphID(ArticleID(a), p), i)), m[0])
		}
	}
	return out
}

// FindReferences returns the distinct units cited by text. A citation that
// names a paragraph also registers at paragraph granularity when it names
// an item of that paragraph; nothing is expanded to children.
func FindReferences(text string) []Ref {
	cs := findCitations(text)
	if len(cs) == 0 {
		return nil
	}
	refs := make([]Ref, len(cs))
	for i, c := range cs {
		refs[i] = c.Target
	}
	return refs
}

// HasReferences reports whether text cites any unit.
func HasReferences(text string) bool {
	return strings.Contains(text, "조") && len(findCitations(text)) > 0
}

// ---------------------------------------------------------------------------
// Linking
// ---------------------------------------------------------------------------

// Link resolves the citations of every paragraph and item against the
// document and records one Reference per (source, target) pair. Citations
// naming units the document does not contain are counted in Unresolved and
// dropped. A citation at the very start of a source that names the source's
// own article is the echoed article header, not a reference.
func Link(d *Document) {
	d.References = d.References[:0]
	d.Unresolved = 0

	link := func(src Node, text string) {
		owner := ArticleRef(d.Articles[d.OwningArticle(src)].ID)
		for _, c := range findCitations(text) {
			if c.Offset == 0 && c.Target == owner {
				continue
			}
			dst, ok := d.Lookup(c.Target)
			if !ok {
				d.Unresolved++
				continue
			}
			d.References = append(d.References, Reference{Source: src, Target: dst})
		}
	}

	for i := range d.Paragraphs {
		link(Node{Kind: KindParagraph, Index: i}, d.Paragraphs[i].Text)
	}
	for i := range d.Items {
		link(Node{Kind: KindItem, Index: i}, d.Items[i].Text)
	}
}
