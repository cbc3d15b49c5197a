// Package docs renders the command reference from the registry as markdown, JSON or HTML.
package docs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/morezero/editor-gateway/pkg/command"
	"github.com/morezero/editor-gateway/pkg/registry"
)

const logPrefix = "docs:generator"

// Output formats accepted by Generate.
const (
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
)

// Lister is the registry view the generator needs.
type Lister interface {
	List() []*registry.Entry
}

// Option configures a Generator.
type Option func(*Generator)

// WithTitle overrides the document title.
func WithTitle(title string) Option {
	return func(g *Generator) { g.title = title }
}

// WithClock overrides the time source used for the generation footer.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// Generator renders API documentation for every registered command.
type Generator struct {
	reg   Lister
	title string
	now   func() time.Time
	md    goldmark.Markdown
}

// New creates a Generator over reg.
func New(reg Lister, opts ...Option) *Generator {
	g := &Generator{
		reg:   reg,
		title: "Editor Gateway API Documentation",
		now:   time.Now,
		md:    goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate renders the reference in format (markdown or json). Format matching is case-insensitive.
func (g *Generator) Generate(format string, includeExamples bool) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatMarkdown:
		return g.Markdown(includeExamples), nil
	case FormatJSON:
		return g.JSON()
	default:
		return "", command.NewError(command.KindValidation,
			fmt.Sprintf("unsupported documentation format %q (expected markdown or json)", format))
	}
}

// JSON returns the indented entry list.
func (g *Generator) JSON() (string, error) {
	entries := g.reg.List()
	if entries == nil {
		entries = []*registry.Entry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%s - marshal entries: %w", logPrefix, err)
	}
	return string(data), nil
}

// HTML renders the markdown reference to HTML.
func (g *Generator) HTML(includeExamples bool) (string, error) {
	var buf bytes.Buffer
	buf.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>")
	buf.WriteString(g.title)
	buf.WriteString("</title></head><body>\n")
	if err := g.md.Convert([]byte(g.Markdown(includeExamples)), &buf); err != nil {
		return "", fmt.Errorf("%s - render html: %w", logPrefix, err)
	}
	buf.WriteString("</body></html>\n")
	return buf.String(), nil
}

// Markdown renders the reference grouped by category with a table of contents.
func (g *Generator) Markdown(includeExamples bool) string {
	groups := make(map[string][]*registry.Entry)
	for _, e := range g.reg.List() {
		groups[e.Category] = append(groups[e.Category], e)
	}
	categories := make([]string, 0, len(groups))
	for c := range groups {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", g.title)
	b.WriteString("Reference for every command the gateway accepts. Commands run locally or are forwarded to the editor host.\n\n")

	b.WriteString("## Table of Contents\n\n")
	for _, c := range categories {
		fmt.Fprintf(&b, "- [%s Commands](#%s-commands) (%d)\n", title(c), c, len(groups[c]))
	}
	b.WriteString("\n")

	for _, c := range categories {
		fmt.Fprintf(&b, "## %s Commands\n\n", title(c))
		for _, e := range groups[c] {
			writeEntry(&b, e, includeExamples)
		}
	}

	fmt.Fprintf(&b, "*Documentation generated on %s*\n", g.now().UTC().Format("2006-01-02 15:04:05"))
	return b.String()
}

func writeEntry(b *strings.Builder, e *registry.Entry, includeExamples bool) {
	fmt.Fprintf(b, "### %s\n\n", e.Name())
	if e.Description != "" {
		fmt.Fprintf(b, "%s\n\n", e.Description)
	}
	if e.Local() {
		b.WriteString("Runs inside the gateway.\n\n")
	}

	if len(e.Params) > 0 {
		b.WriteString("#### Parameters\n\n")
		tw := table.NewWriter()
		tw.AppendHeader(table.Row{"Name", "Type", "Required", "Default", "Description"})
		for _, p := range e.Params {
			required := "No"
			if p.Required {
				required = "Yes"
			}
			def := "N/A"
			if p.Default != nil {
				def = fmt.Sprint(p.Default)
			}
			tw.AppendRow(table.Row{p.Name, p.Type, required, def, p.Description})
		}
		b.WriteString(tw.RenderMarkdown())
		b.WriteString("\n\n")
	}

	returns := e.Returns
	if returns == "" {
		returns = "object"
	}
	fmt.Fprintf(b, "#### Returns\n\nType: %s\n\n", returns)

	if includeExamples {
		b.WriteString("#### Example\n\n```json\n")
		b.WriteString(exampleRequest(e))
		b.WriteString("\n```\n\n")
	}
	b.WriteString("---\n\n")
}

func exampleRequest(e *registry.Entry) string {
	params := make(map[string]interface{}, len(e.Params))
	for _, p := range e.Params {
		params[p.Name] = exampleValue(p)
	}
	req := map[string]interface{}{"type": e.Name(), "parameters": params}
	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

func exampleValue(p registry.Param) interface{} {
	if p.Default != nil {
		return p.Default
	}
	switch strings.ToLower(p.Type) {
	case "string", "str":
		return p.Name + "_example"
	case "int", "integer":
		return 1
	case "float", "number":
		return 1.0
	case "bool", "boolean":
		return true
	case "list", "array":
		return []interface{}{}
	case "object", "dict", "map":
		return map[string]interface{}{}
	default:
		return nil
	}
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
