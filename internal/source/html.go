package source

import (
	"bytes"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

// findAll returns every element named tag below n, in document order.
func findAll(n *html.Node, tag string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && node.Data == tag {
			out = append(out, node)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func findFirst(n *html.Node, tags ...string) *html.Node {
	for _, tag := range tags {
		if found := findAll(n, tag); len(found) > 0 {
			return found[0]
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

var skipText = map[string]bool{
	"script": true, "style": true, "noscript": true, "nav": true, "footer": true,
}

// textOf renders the visible text of n with block elements on their own
// lines and runs of spaces collapsed.
func textOf(n *html.Node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			b.WriteString(node.Data)
			return
		case html.ElementNode:
			if skipText[node.Data] {
				return
			}
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if node.Type == html.ElementNode {
			switch node.Data {
			case "p", "div", "br", "li", "h1", "h2", "h3", "h4", "tr", "article", "section":
				b.WriteByte('\n')
			}
		}
	}
	walk(n)

	lines := strings.Split(b.String(), "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

// plainText strips markup from an HTML fragment such as a feed summary.
func plainText(fragment string) string {
	if !strings.Contains(fragment, "<") {
		return strings.Join(strings.Fields(html.UnescapeString(fragment)), " ")
	}
	doc, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	return strings.ReplaceAll(textOf(doc), "\n", " ")
}

// metaDescription returns <meta name="description"> content, if any.
func metaDescription(doc *html.Node) string {
	for _, m := range findAll(doc, "meta") {
		if strings.EqualFold(attr(m, "name"), "description") || strings.EqualFold(attr(m, "property"), "og:description") {
			if c := strings.TrimSpace(attr(m, "content")); c != "" {
				return c
			}
		}
	}
	return ""
}

// parseHTML parses body, converting from the charset named by contentType or
// sniffed from the document.
func parseHTML(body []byte, contentType string) (*html.Node, error) {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return nil, eris.Wrap(err, "source: detect charset")
	}
	doc, err := html.Parse(r)
	if err != nil {
		return nil, eris.Wrap(err, "source: parse html")
	}
	return doc, nil
}
