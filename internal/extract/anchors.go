package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"golang.org/x/net/html"
)

// Anchor is one <a href> element with its visible text collapsed to single
// spaces.
type Anchor struct {
	Text string
	Href string
}

// Anchors returns every anchor with a non-empty href in document order.
// Text inside script, style and template elements is ignored.
func Anchors(input []byte) ([]Anchor, error) {
	node, err := html.Parse(bytes.NewReader(input))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	var out []Anchor
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch strings.ToLower(n.Data) {
			case "script", "style", "template", "noscript":
				return
			case "a":
				if href := strings.TrimSpace(attr(n, "href")); href != "" {
					var b strings.Builder
					collectText(&b, n)
					out = append(out, Anchor{Text: CollapseSpaces(b.String()), Href: href})
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(node)
	return out, nil
}

// Absolute resolves href against base. Fragments are dropped.
func Absolute(base string, href string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	h, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("parse href: %w", err)
	}
	u := b.ResolveReference(h)
	u.Fragment = ""
	return u.String(), nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func collectText(b *strings.Builder, n *html.Node) {
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		return
	}
	if n.Type == html.ElementNode {
		switch strings.ToLower(n.Data) {
		case "script", "style":
			return
		case "br":
			b.WriteByte(' ')
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(b, c)
	}
}

// CollapseSpaces trims s and collapses every run of Unicode whitespace,
// including no-break spaces, to a single ASCII space.
func CollapseSpaces(s string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return strings.TrimRight(b.String(), " ")
}
