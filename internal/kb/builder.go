// Package kb renders the published knowledge base as markdown pages.
package kb

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
	"time"
	"unicode/utf8"

	"github.com/ejwhitmore/tweetvault/internal/types"
)

// Builder writes category pages and the index into the output directory.
type Builder struct {
	outputDir string
	pageTmpl  *template.Template
	indexTmpl *template.Template
}

// New creates a knowledge-base builder rooted at outputDir.
func New(outputDir string) (*Builder, error) {
	pageTmpl, err := template.New("page").Parse(pageTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page template: %w", err)
	}
	indexTmpl, err := template.New("index").Parse(indexTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse index template: %w", err)
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	return &Builder{
		outputDir: outputDir,
		pageTmpl:  pageTmpl,
		indexTmpl: indexTmpl,
	}, nil
}

// IndexEntry is one category row on the index page.
type IndexEntry struct {
	Name         string
	Slug         string
	ItemCount    int
	HasSynthesis bool
}

type indexData struct {
	Date       string
	TotalItems int
	Categories []IndexEntry
}

type pageData struct {
	Name      string
	Date      string
	Synthesis string
	Model     string
	Items     []pageItem
}

type pageItem struct {
	AuthorHandle  string
	AuthorName    string
	Text          string
	Understanding string
	URL           string
	Engagement    int
	Thread        string
}

// WriteIndex renders README.md listing all categories.
func (b *Builder) WriteIndex(entries []IndexEntry, totalItems int) (string, error) {
	data := indexData{
		Date:       time.Now().Format("Monday, January 2 2006"),
		TotalItems: totalItems,
		Categories: entries,
	}

	var buf bytes.Buffer
	if err := b.indexTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render index: %w", err)
	}

	path := filepath.Join(b.outputDir, "README.md")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return "", err
	}
	return path, nil
}

// WriteCategoryPage renders one category's page, combining its synthesis
// document (if any) with the per-item understandings.
func (b *Builder) WriteCategoryPage(cat types.Category, doc *types.SynthesisDoc, items []types.ContentItem) (string, error) {
	data := pageData{
		Name: cat.Name,
		Date: time.Now().Format("Monday, January 2 2006"),
	}
	if doc != nil {
		data.Synthesis = doc.Body
		data.Model = doc.Model
	}

	for _, it := range items {
		pi := pageItem{
			AuthorHandle:  it.AuthorHandle,
			AuthorName:    it.AuthorName,
			Text:          truncate(it.Text, 280),
			Understanding: it.Understanding,
			URL:           it.OriginalURL,
			Engagement:    it.TotalEngagement(),
		}
		if it.ThreadID != "" && it.ThreadLength > 1 {
			pi.Thread = fmt.Sprintf("part %d of %d", it.PositionInThread, it.ThreadLength)
		}
		data.Items = append(data.Items, pi)
	}

	var buf bytes.Buffer
	if err := b.pageTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render category page: %w", err)
	}

	path := filepath.Join(b.outputDir, cat.Slug+".md")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return "", err
	}
	return path, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	// Back up to a rune boundary so a multi-byte character is never split.
	cut := maxLen - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

const indexTemplate = `# Bookmark Knowledge Base

_Updated {{.Date}} · {{.TotalItems}} bookmarks_

| Category | Bookmarks | Synthesis |
|---|---|---|
{{range .Categories}}| [{{.Name}}]({{.Slug}}.md) | {{.ItemCount}} | {{if .HasSynthesis}}yes{{else}}—{{end}} |
{{end}}`

const pageTemplate = `# {{.Name}}

_Updated {{.Date}}_
{{if .Synthesis}}
## Overview

{{.Synthesis}}

<sub>Synthesized by {{.Model}}</sub>
{{end}}
## Bookmarks
{{range .Items}}
### @{{.AuthorHandle}}{{if .AuthorName}} ({{.AuthorName}}){{end}}{{if .Thread}} — {{.Thread}}{{end}}

> {{.Text}}

{{.Understanding}}

[View on X]({{.URL}}) · {{.Engagement}} total engagement
{{end}}`
