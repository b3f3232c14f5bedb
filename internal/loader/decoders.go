package loader

import (
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"
)

// decodeText reads a plain-text file as a single block.
func decodeText(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return []string{string(data)}, nil
}

// decodeMarkdown parses a Markdown file with goldmark and extracts the plain
// text from the AST, one newline-separated line per block element. Formatting
// constructs (emphasis, links, code fences) contribute their text content only.
func decodeMarkdown(path string) ([]string, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	md := goldmark.New()
	doc := md.Parser().Parse(gmtext.NewReader(src))

	var b strings.Builder
	err = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			// Separate block elements so headings and paragraphs do not fuse.
			if _, isBlock := n.(*ast.Paragraph); isBlock {
				b.WriteString("\n\n")
			} else if _, isHeading := n.(*ast.Heading); isHeading {
				b.WriteString("\n\n")
			}
			return ast.WalkContinue, nil
		}

		switch t := n.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteString("\n")
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := n.Lines()
			for i := range lines.Len() {
				seg := lines.At(i)
				b.Write(seg.Value(src))
			}
			b.WriteString("\n")
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking markdown AST: %w", err)
	}

	return []string{strings.TrimSpace(b.String())}, nil
}

// decodePDF extracts the plain text of each PDF page as its own block, so
// chunk overlap never spans a page boundary.
func decodePDF(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}

	var blocks []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extracting page %d: %w", i, err)
		}
		if strings.TrimSpace(text) != "" {
			blocks = append(blocks, text)
		}
	}
	return blocks, nil
}

// decodeDOCX extracts the document body text from a .docx archive. The raw
// content is WordprocessingML; paragraph closers become newlines and all
// remaining tags are stripped.
func decodeDOCX(path string) ([]string, error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	content := r.Editable().GetContent()
	content = strings.ReplaceAll(content, "</w:p>", "\n")
	return []string{stripTags(content)}, nil
}

// decodeXLSX renders each sheet of a workbook as one block of
// tab-separated rows.
func decodeXLSX(path string) ([]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var blocks []string
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("reading sheet %q: %w", sheet, err)
		}

		var b strings.Builder
		for _, row := range rows {
			b.WriteString(strings.Join(row, "\t"))
			b.WriteString("\n")
		}
		if strings.TrimSpace(b.String()) != "" {
			blocks = append(blocks, b.String())
		}
	}
	return blocks, nil
}

// stripTags removes XML tags from s, keeping only character data.
func stripTags(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}
