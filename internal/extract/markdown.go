package extract

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// FromHTML converts an HTML document to semantic markdown. The conversion
// is deterministic: the same input always yields the same output. Headings,
// lists, tables, links, emphasis and code survive; script, style and head
// metadata do not.
func FromHTML(rawHTML string) (string, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	var w mdWriter
	w.walk(doc)
	return w.finish(), nil
}

// skipped elements contribute nothing, including their children.
var skipped = map[string]bool{
	"script": true, "style": true, "noscript": true, "head": true,
	"meta": true, "link": true, "title": true, "iframe": true,
	"svg": true, "template": true,
}

type mdWriter struct {
	b         strings.Builder
	listDepth int
	ordinals  []int // per-depth counters for ordered lists
	ordered   []bool
	inPre     bool
}

func (w *mdWriter) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		w.text(n.Data)
		return
	case html.ElementNode:
		if skipped[n.Data] {
			return
		}
		if w.element(n) {
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
}

// element handles one tag; returns true if it consumed its children.
func (w *mdWriter) element(n *html.Node) bool {
	switch n.Data {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		level := int(n.Data[1] - '0')
		w.block()
		w.b.WriteString(strings.Repeat("#", level))
		w.b.WriteByte(' ')
		w.inline(n)
		w.b.WriteByte('\n')
		return true
	case "p":
		w.block()
		w.inline(n)
		w.b.WriteByte('\n')
		return true
	case "br":
		w.b.WriteByte('\n')
		return true
	case "hr":
		w.block()
		w.b.WriteString("---\n")
		return true
	case "a":
		href := attr(n, "href")
		text := strings.TrimSpace(textOf(n))
		if text == "" {
			return true
		}
		w.sep(text)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
			w.b.WriteString(text)
		} else {
			fmt.Fprintf(&w.b, "[%s](%s)", text, href)
		}
		return true
	case "img":
		alt := attr(n, "alt")
		src := attr(n, "src")
		if src != "" && !strings.HasPrefix(src, "data:") {
			w.sep("!")
			fmt.Fprintf(&w.b, "![%s](%s)", alt, src)
		}
		return true
	case "strong", "b":
		if t := strings.TrimSpace(textOf(n)); t != "" {
			w.sep(t)
			fmt.Fprintf(&w.b, "**%s**", t)
		}
		return true
	case "em", "i":
		if t := strings.TrimSpace(textOf(n)); t != "" {
			w.sep(t)
			fmt.Fprintf(&w.b, "*%s*", t)
		}
		return true
	case "code":
		if w.inPre {
			return false
		}
		if t := strings.TrimSpace(textOf(n)); t != "" {
			w.sep(t)
			fmt.Fprintf(&w.b, "`%s`", t)
		}
		return true
	case "pre":
		w.block()
		w.inPre = true
		w.b.WriteString("```\n")
		w.b.WriteString(strings.TrimRight(rawTextOf(n), "\n"))
		w.b.WriteString("\n```\n")
		w.inPre = false
		return true
	case "blockquote":
		w.block()
		for _, line := range strings.Split(strings.TrimSpace(textOf(n)), "\n") {
			w.b.WriteString("> ")
			w.b.WriteString(strings.TrimSpace(line))
			w.b.WriteByte('\n')
		}
		return true
	case "ul", "ol":
		w.enterList(n.Data == "ol")
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			w.walk(c)
		}
		w.leaveList()
		return true
	case "li":
		w.listItem(n)
		return true
	case "table":
		w.table(n)
		return true
	}
	return false
}

func (w *mdWriter) enterList(ordered bool) {
	if w.listDepth == 0 {
		w.block()
	}
	w.listDepth++
	w.ordered = append(w.ordered, ordered)
	w.ordinals = append(w.ordinals, 0)
}

func (w *mdWriter) leaveList() {
	w.listDepth--
	w.ordered = w.ordered[:len(w.ordered)-1]
	w.ordinals = w.ordinals[:len(w.ordinals)-1]
	if w.listDepth == 0 {
		w.b.WriteByte('\n')
	}
}

func (w *mdWriter) listItem(n *html.Node) {
	indent := strings.Repeat("  ", w.listDepth-1)
	w.b.WriteString(indent)
	if len(w.ordered) > 0 && w.ordered[len(w.ordered)-1] {
		w.ordinals[len(w.ordinals)-1]++
		fmt.Fprintf(&w.b, "%d. ", w.ordinals[len(w.ordinals)-1])
	} else {
		w.b.WriteString("- ")
	}
	// Inline content first, nested lists after.
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (c.Data == "ul" || c.Data == "ol") {
			continue
		}
		w.walk(c)
	}
	w.b.WriteByte('\n')
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (c.Data == "ul" || c.Data == "ol") {
			w.walk(c)
		}
	}
}

func (w *mdWriter) table(n *html.Node) {
	var rows [][]string
	var visit func(*html.Node)
	visit = func(node *html.Node) {
		if node.Type == html.ElementNode && node.Data == "tr" {
			var cells []string
			for c := node.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
					cells = append(cells, collapse(textOf(c)))
				}
			}
			if len(cells) > 0 {
				rows = append(rows, cells)
			}
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)

	if len(rows) == 0 {
		return
	}
	w.block()
	width := len(rows[0])
	writeRow := func(cells []string) {
		w.b.WriteString("| ")
		for i := 0; i < width; i++ {
			if i < len(cells) {
				w.b.WriteString(cells[i])
			}
			if i < width-1 {
				w.b.WriteString(" | ")
			}
		}
		w.b.WriteString(" |\n")
	}
	writeRow(rows[0])
	w.b.WriteString("|")
	for i := 0; i < width; i++ {
		w.b.WriteString(" --- |")
	}
	w.b.WriteByte('\n')
	for _, row := range rows[1:] {
		writeRow(row)
	}
}

func (w *mdWriter) text(s string) {
	if w.inPre {
		w.b.WriteString(s)
		return
	}
	t := collapse(s)
	if t == "" {
		return
	}
	w.sep(t)
	w.b.WriteString(t)
}

// sep writes a separating space between adjacent inline runs, except before
// closing punctuation.
func (w *mdWriter) sep(next string) {
	if w.b.Len() == 0 || next == "" {
		return
	}
	last := w.b.String()[w.b.Len()-1]
	if last == '\n' || last == ' ' || last == '(' || last == '[' {
		return
	}
	switch next[0] {
	case '.', ',', ':', ';', '?', ')', ']':
		return
	}
	w.b.WriteByte(' ')
}

// inline writes a node's children without block separation.
func (w *mdWriter) inline(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
}

// block ensures a blank line before a new block element.
func (w *mdWriter) block() {
	s := w.b.String()
	switch {
	case s == "":
	case strings.HasSuffix(s, "\n\n"):
	case strings.HasSuffix(s, "\n"):
		w.b.WriteByte('\n')
	default:
		w.b.WriteString("\n\n")
	}
}

func (w *mdWriter) finish() string {
	out := w.b.String()
	out = manyBlank.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

var (
	wsRun     = regexp.MustCompile(`[ \t\r\n]+`)
	manyBlank = regexp.MustCompile(`\n{3,}`)
)

func collapse(s string) string {
	return strings.TrimSpace(wsRun.ReplaceAllString(s, " "))
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// textOf flattens all descendant text, whitespace-collapsed.
func textOf(n *html.Node) string {
	var b strings.Builder
	var visit func(*html.Node)
	visit = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
			return
		}
		if node.Type == html.ElementNode && skipped[node.Data] {
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	return collapse(b.String())
}

// rawTextOf preserves whitespace, for pre blocks.
func rawTextOf(n *html.Node) string {
	var b strings.Builder
	var visit func(*html.Node)
	visit = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	return b.String()
}
