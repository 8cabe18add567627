package clause

import (
	"regexp"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Line markers
// ---------------------------------------------------------------------------

// articleHeaderPattern matches "제12조(보험금의 지급)" at the start of a line.
// The closing bracket is optional because PDF extraction often wraps long titles.
var articleHeaderPattern = regexp.MustCompile(`^제\s*(\d+)\s*조\s*[(（]([^)）]+)[)）]?`)

// sectionPattern matches a special-section banner anywhere in a line.
var sectionPattern = regexp.MustCompile(`【([^】]+특별약관)】|<([^>]+특별약관)>`)

// itemPattern matches a leading "3." marker. A digit right after the dot is
// a decimal number ("1.5배"), not an item.
var itemPattern = regexp.MustCompile(`^(\d+)\s*\.(?:\D|$)`)

const (
	circledFirst = '①'
	circledLast  = '⑮'
)

// circledNumber returns the value of the leftmost circled-digit marker in
// line, or 0 when there is none.
func circledNumber(line string) int {
	for _, r := range line {
		if r >= circledFirst && r <= circledLast {
			return int(r-circledFirst) + 1
		}
	}
	return 0
}

type lineKind int

const (
	lineBlank lineKind = iota
	lineSection
	lineArticle
	lineParagraph
	lineItem
	lineText
)

// line is one classified input line.
type line struct {
	kind lineKind
	text string

	number int    // article, paragraph or item number
	title  string // article title
	label  string // special-section label

	// marker is the circled number carried by an article header line.
	marker int
}

func classify(raw string) line {
	text := strings.TrimSpace(raw)
	if text == "" {
		return line{kind: lineBlank}
	}
	if m := sectionPattern.FindStringSubmatch(text); m != nil {
		label := m[1]
		if label == "" {
			label = m[2]
		}
		return line{kind: lineSection, text: text, label: strings.TrimSpace(label)}
	}
	if m := articleHeaderPattern.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			return line{
				kind:   lineArticle,
				text:   text,
				number: n,
				title:  strings.TrimSpace(m[2]),
				marker: circledNumber(text[len(m[0]):]),
			}
		}
	}
	if n := circledNumber(text); n > 0 {
		return line{kind: lineParagraph, text: text, number: n}
	}
	if m := itemPattern.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return line{kind: lineItem, text: text, number: n}
		}
	}
	return line{kind: lineText, text: text}
}

// ---------------------------------------------------------------------------
// State machine
// ---------------------------------------------------------------------------

type state int

const (
	stateNoArticle state = iota
	stateInArticle
	stateInParagraph
	stateInItem
)

func (s state) String() string {
	switch s {
	case stateNoArticle:
		return "NoArticle"
	case stateInArticle:
		return "InArticle"
	case stateInParagraph:
		return "InParagraph"
	case stateInItem:
		return "InItem"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// next is the transition table of the parser.
func next(s state, l line) state {
	switch l.kind {
	case lineArticle:
		if l.marker > 0 {
			return stateInParagraph
		}
		return stateInArticle
	case lineParagraph:
		if s == stateNoArticle {
			return s
		}
		return stateInParagraph
	case lineItem:
		if s == stateInParagraph || s == stateInItem {
			return stateInItem
		}
	}
	return s
}

type pendingItem struct {
	number int
	lines  []string
}

type pendingParagraph struct {
	number int
	lines  []string
	items  []*pendingItem
}

type pendingArticle struct {
	number     int
	title      string
	section    string
	lines      []string
	paragraphs []*pendingParagraph
}

// accumulator carries everything the scan needs between lines. The special
// section label outlives article boundaries.
type accumulator struct {
	state     state
	label     string
	article   *pendingArticle
	paragraph *pendingParagraph
	item      *pendingItem
	doc       *Document
}

func newAccumulator() *accumulator {
	return &accumulator{state: stateNoArticle, doc: newDocument()}
}

func (a *accumulator) feed(l line) {
	switch l.kind {
	case lineBlank:
		return
	case lineSection:
		a.label = l.label
		return
	}

	to := next(a.state, l)

	switch {
	case l.kind == lineArticle:
		a.closeArticle()
		a.article = &pendingArticle{
			number:  l.number,
			title:   l.title,
			section: a.label,
			lines:   []string{l.text},
		}
		if l.marker > 0 {
			a.openParagraph(l.marker, l.text)
		}
	case a.state == stateNoArticle:
		// Preamble before the first article is not part of any unit.
	case l.kind == lineParagraph:
		a.article.lines = append(a.article.lines, l.text)
		a.openParagraph(l.number, l.text)
	case l.kind == lineItem && to == stateInItem:
		a.article.lines = append(a.article.lines, l.text)
		a.item = &pendingItem{number: l.number, lines: []string{l.text}}
		a.paragraph.items = append(a.paragraph.items, a.item)
	default:
		a.article.lines = append(a.article.lines, l.text)
		switch a.state {
		case stateInItem:
			a.item.lines = append(a.item.lines, l.text)
		case stateInParagraph:
			a.paragraph.lines = append(a.paragraph.lines, l.text)
		}
	}

	a.state = to
}

func (a *accumulator) openParagraph(number int, text string) {
	a.item = nil
	a.paragraph = &pendingParagraph{number: number, lines: []string{text}}
	a.article.paragraphs = append(a.article.paragraphs, a.paragraph)
}

// closeArticle emits the open article with its paragraphs and items into
// the arena and resets the unit accumulators.
func (a *accumulator) closeArticle() {
	pa := a.article
	a.article, a.paragraph, a.item = nil, nil, nil
	a.state = stateNoArticle
	if pa == nil {
		return
	}

	id := ArticleID(pa.number)
	art := Article{
		ID:          id,
		Number:      pa.number,
		Title:       pa.title,
		Text:        strings.TrimSpace(strings.Join(pa.lines, "\n")),
		Hint:        HintFromTitle(pa.title),
		Section:     pa.section,
		SectionPath: id,
	}
	if pa.section != "" {
		art.SectionPath = pa.section + ">" + id
	}
	ai := a.doc.addArticle(art)
	if ai < 0 {
		return
	}

	if len(pa.paragraphs) == 0 {
		a.doc.addParagraph(Paragraph{
			ID:        ParagraphID(id, 1),
			Number:    1,
			Text:      art.Text,
			Synthetic: true,
			Article:   ai,
		})
		return
	}
	for _, pp := range pa.paragraphs {
		pid := ParagraphID(id, pp.number)
		pi := a.doc.addParagraph(Paragraph{
			ID:      pid,
			Number:  pp.number,
			Text:    strings.Join(pp.lines, "\n"),
			Article: ai,
		})
		if pi < 0 {
			continue
		}
		for _, it := range pp.items {
			a.doc.addItem(Item{
				ID:        ItemID(pid, it.number),
				Number:    it.number,
				Text:      strings.Join(it.lines, "\n"),
				Paragraph: pi,
			})
		}
	}
}

// ---------------------------------------------------------------------------
// Entry points
// ---------------------------------------------------------------------------

// Parse scans text line by line and returns the arena of every article,
// paragraph and item found, with citations already linked. Text without
// article headers yields an empty Document, never an error.
func Parse(text string) *Document {
	acc := newAccumulator()
	for _, raw := range strings.Split(text, "\n") {
		acc.feed(classify(raw))
	}
	acc.closeArticle()
	Link(acc.doc)
	return acc.doc
}

// Extract returns the articles of text in document order.
func Extract(text string) []Article {
	return Parse(text).Articles
}
