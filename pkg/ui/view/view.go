// Package view is a small HTML node tree used to build pages.
package view

import (
	"bytes"
	"html"
	"html/template"
	"sort"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Node is anything that renders to HTML.
type Node interface {
	HTML() template.HTML
}

// Element is an HTML element with children.
type Element struct {
	Tag      string
	Classes  []string
	Attrs    map[string]string
	Children []Node
}

// El creates an element.
func El(tag string, children ...Node) *Element {
	return &Element{Tag: tag, Children: children}
}

// Class appends CSS classes. Empty names are skipped.
func (e *Element) Class(classes ...string) *Element {
	for _, c := range classes {
		if c != "" {
			e.Classes = append(e.Classes, c)
		}
	}
	return e
}

// Attr sets an attribute.
func (e *Element) Attr(key, value string) *Element {
	if e.Attrs == nil {
		e.Attrs = make(map[string]string)
	}
	e.Attrs[key] = value
	return e
}

// Add appends children.
func (e *Element) Add(children ...Node) *Element {
	e.Children = append(e.Children, children...)
	return e
}

// HTML implements Node.
func (e *Element) HTML() template.HTML {
	var b strings.Builder
	b.WriteByte('<')
	b.WriteString(e.Tag)
	if len(e.Classes) > 0 {
		b.WriteString(` class="`)
		b.WriteString(html.EscapeString(strings.Join(e.Classes, " ")))
		b.WriteByte('"')
	}

	keys := make([]string, 0, len(e.Attrs))
	for k := range e.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte(' ')
		b.WriteString(html.EscapeString(k))
		b.WriteString(`="`)
		b.WriteString(html.EscapeString(e.Attrs[k]))
		b.WriteByte('"')
	}
	b.WriteByte('>')

	if isVoid(e.Tag) {
		return template.HTML(b.String()) //nolint:gosec // built from escaped parts
	}

	for _, child := range e.Children {
		if child != nil {
			b.WriteString(string(child.HTML()))
		}
	}
	b.WriteString("</")
	b.WriteString(e.Tag)
	b.WriteByte('>')
	return template.HTML(b.String()) //nolint:gosec // built from escaped parts
}

func isVoid(tag string) bool {
	switch tag {
	case "br", "hr", "img", "input", "link", "meta":
		return true
	}
	return false
}

// Text is escaped character data.
type Text string

// HTML implements Node.
func (t Text) HTML() template.HTML {
	return template.HTML(html.EscapeString(string(t))) //nolint:gosec // escaped
}

// Raw is trusted markup inserted verbatim.
type Raw template.HTML

// HTML implements Node.
func (r Raw) HTML() template.HTML {
	return template.HTML(r)
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// Markdown renders CommonMark with GitHub extensions. Raw HTML in the
// source is dropped.
func Markdown(src string) Node {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(src), &buf); err != nil {
		return El("p", Text(src)).Class("markdown")
	}
	return El("div", Raw(buf.String())).Class("markdown")
}

// Label is an inline text label.
func Label(text string) *Element {
	return El("span", Text(text)).Class("label")
}

// Heading is an h1..h6 element.
func Heading(level int, text string) *Element {
	if level < 1 || level > 6 {
		level = 1
	}
	return El("h"+strconv.Itoa(level), Text(text))
}

// Button is a link styled as a button. The active button gets the
// "active" class and aria-current.
func Button(label, href string, active bool) *Element {
	b := El("a", Text(label)).Class("button").Attr("href", href)
	if active {
		b.Class("active").Attr("aria-current", "page")
	}
	return b
}

// Row lays children out horizontally.
func Row(children ...Node) *Element {
	return El("div", children...).Class("row")
}

// Link is a plain anchor.
func Link(text, href string) *Element {
	return El("a", Text(text)).Attr("href", href)
}

// Table renders a header row and body rows.
func Table(headers []string, rows [][]Node) *Element {
	head := El("tr")
	for _, h := range headers {
		head.Add(El("th", Text(h)))
	}

	body := El("tbody")
	for _, row := range rows {
		tr := El("tr")
		for _, cell := range row {
			tr.Add(El("td", cell))
		}
		body.Add(tr)
	}

	return El("table", El("thead", head), body).Class("table")
}

// Pre is preformatted text.
func Pre(text string) *Element {
	return El("pre", Text(text))
}
