package render

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"furigana/dom"
)

// Stylesheet returns the CSS that goes with the current options.
func (r *Renderer) Stylesheet() string {
	var sb strings.Builder
	color := r.opts.FontColor
	if color == "" || strings.ContainsAny(color, "<>{};:\\\"'") {
		color = "inherit"
	}
	fmt.Fprintf(&sb, "ruby.%s rt{font-size:%d%%;color:%s;}", ClassRuby, r.opts.FontSize, color)
	if r.opts.Display == DisplayHover {
		fmt.Fprintf(&sb, "ruby.%[1]s rt,ruby.%[1]s rp{visibility:hidden;}", ClassHover)
		fmt.Fprintf(&sb, "ruby.%[1]s:hover rt,ruby.%[1]s:hover rp{visibility:visible;}", ClassHover)
	}
	if r.opts.Select == SelectOriginal {
		fmt.Fprintf(&sb, "ruby.%[1]s rt,ruby.%[1]s rp{user-select:none;-webkit-user-select:none;}", ClassRuby)
	}
	return sb.String()
}

// InstallStyle adds the engine stylesheet to <head>. It does nothing when
// the style is already installed or the page has no head.
func (r *Renderer) InstallStyle() {
	if r.style != nil {
		return
	}
	head := r.doc.Head()
	if head == nil {
		return
	}
	style := dom.Element("style", MarkerAttr, "")
	style.AppendChild(dom.Text(r.Stylesheet()))
	r.doc.Mutate(dom.OriginEngine, func(m *dom.Mutator) {
		m.AppendChild(head, style)
	})
	r.reg.MarkTree(style, dom.Inserted)
	r.style = style
}

// RemoveStyle takes the engine stylesheet out again.
func (r *Renderer) RemoveStyle() {
	if r.style == nil {
		return
	}
	style := r.style
	r.style = nil
	r.doc.Mutate(dom.OriginEngine, func(m *dom.Mutator) {
		m.RemoveChild(style)
	})
	r.reg.ForgetTree(style)
}

// CopyText returns the text a user would copy when selecting n. With
// SelectOriginal ruby readings are left out; with SelectFurigana they are
// kept in parentheses after the base text.
func CopyText(n *html.Node, mode SelectMode) string {
	var sb strings.Builder
	dom.Walk(n, func(c *html.Node) bool {
		switch c.Type {
		case html.TextNode:
			sb.WriteString(c.Data)
		case html.ElementNode:
			if dom.IsRawText(c) {
				return false
			}
			if mode != SelectFurigana && (c.DataAtom == atom.Rt || c.DataAtom == atom.Rp) {
				return false
			}
		}
		return true
	})
	return sb.String()
}
