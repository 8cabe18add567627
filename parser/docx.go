package parser

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// DOCXParser reads the body of word/document.xml. Paragraphs become lines
// and table rows become lines of space-joined cells, in document order.
type DOCXParser struct{}

func (p *DOCXParser) SupportedFormats() []string { return []string{"docx"} }

func (p *DOCXParser) Parse(ctx context.Context, path string) (*Document, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening DOCX: %w", err)
	}
	defer r.Close()

	var docFile *zip.File
	for _, f := range r.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return nil, fmt.Errorf("word/document.xml not found in DOCX")
	}

	rc, err := docFile.Open()
	if err != nil {
		return nil, fmt.Errorf("opening document.xml: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}

	lines, err := docxLines(data)
	if err != nil {
		return nil, fmt.Errorf("parsing DOCX XML: %w", err)
	}
	doc := &Document{Method: "native"}
	if len(lines) > 0 {
		doc.Pages = []Page{{Number: 1, Text: strings.Join(lines, "\n")}}
	}
	return doc, nil
}

// DOCX XML structures (simplified). The body is decoded token by token so
// paragraphs and tables keep their relative order.
type docxPara struct {
	Runs []docxRun `xml:"r"`
}

type docxRun struct {
	Text []docxText `xml:"t"`
}

type docxText struct {
	Content string `xml:",chardata"`
}

type docxTable struct {
	Rows []docxRow `xml:"tr"`
}

type docxRow struct {
	Cells []docxCell `xml:"tc"`
}

type docxCell struct {
	Paras []docxPara `xml:"p"`
}

func docxLines(data []byte) ([]string, error) {
	dec := xml.NewDecoder(strings.NewReader(string(data)))
	var lines []string
	inBody := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return lines, nil
		}
		if err != nil {
			return nil, err
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch {
		case se.Name.Local == "body":
			inBody = true
		case inBody && se.Name.Local == "p":
			var p docxPara
			if err := dec.DecodeElement(&p, &se); err != nil {
				return nil, err
			}
			if t := strings.TrimSpace(extractParaText(p)); t != "" {
				lines = append(lines, t)
			}
		case inBody && se.Name.Local == "tbl":
			var tbl docxTable
			if err := dec.DecodeElement(&tbl, &se); err != nil {
				return nil, err
			}
			lines = append(lines, tableLines(tbl)...)
		}
	}
}

func tableLines(tbl docxTable) []string {
	var lines []string
	for _, row := range tbl.Rows {
		var cells []string
		for _, cell := range row.Cells {
			var parts []string
			for _, p := range cell.Paras {
				if t := strings.TrimSpace(extractParaText(p)); t != "" {
					parts = append(parts, t)
				}
			}
			if len(parts) > 0 {
				cells = append(cells, strings.Join(parts, " "))
			}
		}
		if len(cells) > 0 {
			lines = append(lines, strings.Join(cells, " "))
		}
	}
	return lines
}

func extractParaText(para docxPara) string {
	var b strings.Builder
	for _, run := range para.Runs {
		for _, t := range run.Text {
			b.WriteString(t.Content)
		}
	}
	return b.String()
}
