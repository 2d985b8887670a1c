package ingest

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"

	readability "github.com/go-shiori/go-readability"
	"github.com/ledongthuc/pdf"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/havenlab/haven"
)

// ExtractText converts an uploaded document into plain text, dispatching
// on the filename extension. Unknown extensions are rejected rather than
// guessed at.
func ExtractText(filename string, data []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".log", ".csv":
		return string(data), nil
	case ".md", ".markdown":
		return markdownText(data)
	case ".pdf":
		return pdfText(data)
	case ".html", ".htm":
		return htmlText(data)
	default:
		return "", haven.Ef(haven.CodeValidation, "unsupported file type %q", filepath.Ext(filename)).
			WithSuggestion("supported types: .txt, .md, .pdf, .html")
	}
}

// markdownText parses the markdown AST and collects its text nodes,
// separating blocks with newlines so chunk boundaries land between
// paragraphs rather than inside rendered markup.
func markdownText(src []byte) (string, error) {
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var b strings.Builder
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock && b.Len() > 0 {
				b.WriteByte('\n')
			}
			return ast.WalkContinue, nil
		}
		switch t := n.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.AutoLink:
			b.Write(t.URL(src))
		case *ast.CodeSpan:
			// child text nodes carry the content
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				b.Write(seg.Value(src))
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", haven.Wrap(haven.CodeValidation, "parse markdown", err)
	}
	return b.String(), nil
}

// pdfText extracts the text layer of a PDF. Image-only PDFs yield empty
// text, which the pipeline rejects upstream.
func pdfText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", haven.Wrap(haven.CodeValidation, "parse pdf", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", haven.Wrap(haven.CodeValidation, "extract pdf text", err)
	}
	out, err := io.ReadAll(plain)
	if err != nil {
		return "", haven.Wrap(haven.CodeValidation, "read pdf text", err)
	}
	return string(out), nil
}

// htmlText runs readability extraction to strip navigation and markup,
// keeping the article body.
func htmlText(data []byte) (string, error) {
	pageURL, _ := url.Parse("file://upload.html")
	article, err := readability.FromReader(bytes.NewReader(data), pageURL)
	if err != nil {
		return "", haven.Wrap(haven.CodeValidation, "extract html text", err)
	}
	if article.TextContent == "" {
		return article.Title, nil
	}
	return fmt.Sprintf("%s\n%s", article.Title, strings.TrimSpace(article.TextContent)), nil
}
