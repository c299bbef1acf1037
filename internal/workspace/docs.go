package workspace

import (
	"context"
	"fmt"
	"strings"

	docs "google.golang.org/api/docs/v1"
)

// Document is a Google Doc rendered as Markdown.
type Document struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Markdown string `json:"markdown"`
}

// GetDocument fetches a document and renders its content as Markdown.
// Tabbed documents render every tab, nested tabs included.
func (c *Client) GetDocument(ctx context.Context, id string) (*Document, error) {
	if id == "" {
		return nil, fmt.Errorf("document id is required")
	}

	doc, err := c.docs.Documents.Get(id).IncludeTabsContent(true).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", id, err)
	}
	return &Document{
		ID:       doc.DocumentId,
		Title:    doc.Title,
		Markdown: ToMarkdown(doc),
	}, nil
}

// ToMarkdown converts a document to Markdown.
func ToMarkdown(doc *docs.Document) string {
	if doc == nil {
		return ""
	}

	var md strings.Builder
	if doc.Title != "" {
		md.WriteString("# " + doc.Title + "\n\n")
	}

	if len(doc.Tabs) > 0 {
		writeTabs(&md, doc.Tabs, 2)
	} else if doc.Body != nil {
		writeContent(&md, doc.Body.Content)
	}
	return strings.TrimRight(md.String(), "\n") + "\n"
}

func writeTabs(md *strings.Builder, tabs []*docs.Tab, level int) {
	for i, tab := range tabs {
		if tab.TabProperties != nil && tab.TabProperties.Title != "" {
			fmt.Fprintf(md, "%s Tab: %s\n\n", strings.Repeat("#", level), tab.TabProperties.Title)
		} else if i > 0 {
			fmt.Fprintf(md, "%s Tab %d\n\n", strings.Repeat("#", level), i+1)
		}
		if tab.DocumentTab != nil && tab.DocumentTab.Body != nil {
			writeContent(md, tab.DocumentTab.Body.Content)
		}
		if len(tab.ChildTabs) > 0 {
			writeTabs(md, tab.ChildTabs, min(level+1, 6))
		}
	}
}

func writeContent(md *strings.Builder, content []*docs.StructuralElement) {
	for _, el := range content {
		switch {
		case el.Paragraph != nil:
			writeParagraph(md, el.Paragraph)
		case el.Table != nil:
			writeTable(md, el.Table)
		}
	}
}

var headingLevels = map[string]int{
	"TITLE":     1,
	"HEADING_1": 1,
	"HEADING_2": 2,
	"HEADING_3": 3,
	"HEADING_4": 4,
	"HEADING_5": 5,
	"HEADING_6": 6,
}

func writeParagraph(md *strings.Builder, para *docs.Paragraph) {
	var text strings.Builder
	for _, el := range para.Elements {
		if el.TextRun != nil {
			writeTextRun(&text, el.TextRun)
		}
	}
	line := strings.TrimRight(text.String(), "\n")
	if strings.TrimSpace(line) == "" {
		return
	}

	level := 0
	if para.ParagraphStyle != nil {
		level = headingLevels[para.ParagraphStyle.NamedStyleType]
	}
	switch {
	case level > 0:
		md.WriteString(strings.Repeat("#", level) + " " + line + "\n\n")
	case para.Bullet != nil:
		md.WriteString("- " + line + "\n")
	default:
		md.WriteString(line + "\n\n")
	}
}

func writeTextRun(md *strings.Builder, run *docs.TextRun) {
	content := run.Content
	style := run.TextStyle
	if content == "" || style == nil || strings.TrimSpace(content) == "" {
		md.WriteString(content)
		return
	}

	trimmed := strings.TrimRight(content, "\n")
	trailing := content[len(trimmed):]

	switch {
	case style.Link != nil && style.Link.Url != "":
		md.WriteString("[" + strings.TrimSpace(trimmed) + "](" + style.Link.Url + ")")
	case style.Bold && style.Italic:
		md.WriteString("***" + trimmed + "***")
	case style.Bold:
		md.WriteString("**" + trimmed + "**")
	case style.Italic:
		md.WriteString("*" + trimmed + "*")
	default:
		md.WriteString(trimmed)
	}
	md.WriteString(trailing)
}

func writeTable(md *strings.Builder, table *docs.Table) {
	for i, row := range table.TableRows {
		md.WriteString("|")
		for _, cell := range row.TableCells {
			var text strings.Builder
			for _, el := range cell.Content {
				if el.Paragraph == nil {
					continue
				}
				for _, pe := range el.Paragraph.Elements {
					if pe.TextRun != nil {
						text.WriteString(pe.TextRun.Content)
					}
				}
			}
			md.WriteString(" " + strings.Join(strings.Fields(text.String()), " ") + " |")
		}
		md.WriteString("\n")
		if i == 0 {
			md.WriteString("|" + strings.Repeat(" --- |", len(row.TableCells)) + "\n")
		}
	}
	md.WriteString("\n")
}
