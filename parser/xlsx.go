package parser

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSXParser flattens workbook sheets to text, one row per line, so riders
// kept in spreadsheets reach the clause parser like any other text. Each
// sheet becomes a page.
type XLSXParser struct{}

func (p *XLSXParser) SupportedFormats() []string { return []string{"xlsx"} }

func (p *XLSXParser) Parse(ctx context.Context, path string) (*Document, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening XLSX: %w", err)
	}
	defer f.Close()

	doc := &Document{Method: "native", Metadata: map[string]string{}}
	for i, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}

		var lines []string
		for _, row := range rows {
			var cells []string
			for _, c := range row {
				if c = strings.TrimSpace(c); c != "" {
					cells = append(cells, c)
				}
			}
			if len(cells) > 0 {
				lines = append(lines, strings.Join(cells, " "))
			}
		}
		if len(lines) == 0 {
			continue
		}
		doc.Pages = append(doc.Pages, Page{Number: i + 1, Text: strings.Join(lines, "\n")})
		doc.Metadata["sheet_"+strconv.Itoa(i+1)] = sheet
	}

	if len(doc.Pages) == 0 {
		return nil, fmt.Errorf("no data found in XLSX")
	}
	return doc, nil
}
