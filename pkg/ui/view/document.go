package view

import (
	"html/template"
	"io"
	"sync"
	"time"
)

// Document is the page being built during one render.
type Document struct {
	Title            string
	Viewport         string
	Favicon          string
	Dark             bool
	Language         string
	ReconnectTimeout time.Duration

	mu     sync.Mutex
	header []Node
	main   []Node
	footer []Node
}

// AddHeader appends nodes to the header region.
func (d *Document) AddHeader(nodes ...Node) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.header = append(d.header, nodes...)
}

// Add appends nodes to the main region.
func (d *Document) Add(nodes ...Node) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.main = append(d.main, nodes...)
}

// AddFooter appends nodes to the footer region.
func (d *Document) AddFooter(nodes ...Node) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.footer = append(d.footer, nodes...)
}

var documentTemplate = template.Must(template.New("document").Parse(`<!DOCTYPE html>
<html lang="{{.Language}}"{{if .Dark}} class="dark"{{end}}>
<head>
<meta charset="utf-8">
{{- if .Viewport}}
<meta name="viewport" content="{{.Viewport}}">
{{- end}}
{{- if .ReconnectTimeout}}
<meta name="reconnect-timeout" content="{{.ReconnectTimeout}}">
{{- end}}
<title>{{.Title}}</title>
{{- if .Favicon}}
<link rel="icon" href="{{.Favicon}}">
{{- end}}
</head>
<body>
{{- if .Header}}
<header>{{range .Header}}{{.}}{{end}}</header>
{{- end}}
<main>{{range .Main}}{{.}}{{end}}</main>
{{- if .Footer}}
<footer>{{range .Footer}}{{.}}{{end}}</footer>
{{- end}}
</body>
</html>
`))

type documentData struct {
	Title            string
	Viewport         string
	Favicon          string
	Dark             bool
	Language         string
	ReconnectTimeout int64
	Header           []template.HTML
	Main             []template.HTML
	Footer           []template.HTML
}

// Render writes the complete HTML document.
func (d *Document) Render(w io.Writer) error {
	d.mu.Lock()
	data := documentData{
		Title:            d.Title,
		Viewport:         d.Viewport,
		Favicon:          d.Favicon,
		Dark:             d.Dark,
		Language:         d.Language,
		ReconnectTimeout: d.ReconnectTimeout.Milliseconds(),
		Header:           renderAll(d.header),
		Main:             renderAll(d.main),
		Footer:           renderAll(d.footer),
	}
	d.mu.Unlock()

	return documentTemplate.Execute(w, data)
}

func renderAll(nodes []Node) []template.HTML {
	out := make([]template.HTML, 0, len(nodes))
	for _, n := range nodes {
		if n != nil {
			out = append(out, n.HTML())
		}
	}
	return out
}
