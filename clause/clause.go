// Package clause turns flat Korean policy text into an Article > Paragraph > Item
// hierarchy and resolves the citations between those units.
package clause

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is the granularity of an addressable unit.
type Kind uint8

const (
	KindArticle Kind = iota + 1
	KindParagraph
	KindItem
)

// Kinds lists every granularity in order of increasing depth.
var Kinds = []Kind{KindArticle, KindParagraph, KindItem}

func (k Kind) String() string {
	switch k {
	case KindArticle:
		return "article"
	case KindParagraph:
		return "paragraph"
	case KindItem:
		return "item"
	}
	return "unknown"
}

// Label is the graph node label for the kind.
func (k Kind) Label() string {
	switch k {
	case KindArticle:
		return "Article"
	case KindParagraph:
		return "Paragraph"
	case KindItem:
		return "Item"
	}
	return ""
}

// ParseKind accepts either the lower-case name or the node label.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "article":
		return KindArticle, nil
	case "paragraph":
		return KindParagraph, nil
	case "item":
		return KindItem, nil
	}
	return 0, fmt.Errorf("clause: unknown kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Ref names one unit: the tagged union {Article(id) | Paragraph(id) | Item(id)}.
// It is produced once at resolution time so nothing downstream has to guess
// which kind an identifier belongs to.
type Ref struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

func ArticleRef(id string) Ref   { return Ref{Kind: KindArticle, ID: id} }
func ParagraphRef(id string) Ref { return Ref{Kind: KindParagraph, ID: id} }
func ItemRef(id string) Ref      { return Ref{Kind: KindItem, ID: id} }

func (r Ref) String() string { return r.Kind.String() + ":" + r.ID }

// ---------------------------------------------------------------------------
// Identifier grammar
// ---------------------------------------------------------------------------

// ArticleID returns the identifier of article n, e.g. "제3조".
func ArticleID(n int) string { return "제" + strconv.Itoa(n) + "조" }

// ParagraphID returns the identifier of paragraph m of an article,
// e.g. "제3조제2항".
func ParagraphID(articleID string, m int) string {
	return articleID + "제" + strconv.Itoa(m) + "항"
}

// ItemID returns the identifier of item k of a paragraph, e.g. "제3조제2항제1호".
func ItemID(paragraphID string, k int) string {
	return paragraphID + "제" + strconv.Itoa(k) + "호"
}

// ---------------------------------------------------------------------------
// Clause-type hints
// ---------------------------------------------------------------------------

// Hint is a coarse clause category. The zero value means no hint.
type Hint string

const (
	HintNone       Hint = ""
	HintCoverage   Hint = "coverage"
	HintExclusion  Hint = "exclusion"
	HintDefinition Hint = "definition"
	HintCondition  Hint = "condition"

	// Refined categories only a Classifier produces.
	HintDeductible Hint = "deductible"
	HintLimit      Hint = "limit"
	HintProcedure  Hint = "procedure"
	HintGeneral    Hint = "general"
)

// Hints accepted from a classifier.
var Hints = []Hint{
	HintCoverage, HintExclusion, HintCondition, HintDeductible,
	HintLimit, HintDefinition, HintProcedure, HintGeneral,
}

// ParseHint maps a classifier label to a Hint. Unknown labels report false.
func ParseHint(s string) (Hint, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, h := range Hints {
		if string(h) == s {
			return h, true
		}
	}
	return HintNone, false
}

type hintRule struct {
	hint     Hint
	keywords []string
}

// hintRules are checked in priority order; the first rule with a matching
// keyword wins.
var hintRules = []hintRule{
	{HintExclusion, []string{"보상하지", "면책"}},
	{HintCoverage, []string{"보상하는", "담보"}},
	{HintDefinition, []string{"정의", "용어"}},
	{HintCondition, []string{"조건", "청구", "의무"}},
}

// HintFromTitle assigns a coarse category from an article title.
func HintFromTitle(title string) Hint {
	for _, r := range hintRules {
		for _, kw := range r.keywords {
			if strings.Contains(title, kw) {
				return r.hint
			}
		}
	}
	return HintNone
}
