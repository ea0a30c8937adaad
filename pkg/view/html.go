package view

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// HTMLSummary renders an HTML document as a single line of visible text for
// terminals that cannot show a preview. The title, when present, leads.
// The result is cut to limit runes; limit <= 0 means no limit.
func HTMLSummary(doc string, limit int) string {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return ""
	}

	var title string
	var words []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				return
			case atom.Title:
				if n.FirstChild != nil && title == "" {
					title = strings.Join(strings.Fields(n.FirstChild.Data), " ")
				}
				return
			}
		}
		if n.Type == html.TextNode {
			words = append(words, strings.Fields(n.Data)...)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	body := strings.Join(words, " ")
	out := body
	switch {
	case title != "" && body != "":
		out = title + ": " + body
	case title != "":
		out = title
	}
	if r := []rune(out); limit > 0 && len(r) > limit {
		out = string(r[:limit-1]) + "…"
	}
	return out
}
