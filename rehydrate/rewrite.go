package rehydrate

import (
	"bytes"
	"errors"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const doctype = "<!DOCTYPE html>\n"

// rewriteTable lists the element/attribute pairs whose value is a single
// asset reference.
var rewriteTable = map[atom.Atom]string{
	atom.Link:   "href",
	atom.Script: "src",
	atom.Img:    "src",
	atom.Audio:  "src",
	atom.Video:  "src",
	atom.Source: "src",
}

// resolver maps a raw reference to a handle.
type resolver func(ref string) (string, bool)

// rewriteDocument parses src as an HTML document, rewrites every asset
// reference resolve knows about, and serializes the document with a doctype.
// Unresolved references are returned in document order.
func rewriteDocument(src []byte, resolve resolver) (string, []string, error) {
	doc, err := html.Parse(bytes.NewReader(src))
	if err != nil {
		return "", nil, err
	}

	var unresolved []string
	try := func(ref string) (string, bool) {
		h, ok := resolve(ref)
		if !ok && strings.TrimSpace(ref) != "" && !isExternal(strings.TrimSpace(ref)) {
			unresolved = append(unresolved, ref)
		}
		return h, ok
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			rewriteElement(n, try)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	root := documentElement(doc)
	if root == nil {
		return "", unresolved, errors.New("document has no root element")
	}
	var sb strings.Builder
	sb.WriteString(doctype)
	if err := html.Render(&sb, root); err != nil {
		return "", unresolved, err
	}
	return sb.String(), unresolved, nil
}

func rewriteElement(n *html.Node, resolve resolver) {
	attr, ok := rewriteTable[n.DataAtom]
	for i := range n.Attr {
		a := &n.Attr[i]
		if a.Namespace != "" {
			continue
		}
		switch {
		case ok && a.Key == attr:
			if h, hit := resolve(a.Val); hit {
				a.Val = h
			}
		case a.Key == "srcset" && (n.DataAtom == atom.Img || n.DataAtom == atom.Source):
			if a.Val != "" {
				a.Val = rewriteSrcset(a.Val, resolve)
			}
		}
	}
}

// rewriteSrcset resolves every "url [descriptor]" candidate of a srcset
// independently and reassembles the list, keeping each descriptor.
func rewriteSrcset(val string, resolve resolver) string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		h, ok := resolve(fields[0])
		if !ok {
			out = append(out, strings.TrimSpace(part))
			continue
		}
		if len(fields) > 1 {
			h += " " + strings.Join(fields[1:], " ")
		}
		out = append(out, h)
	}
	return strings.Join(out, ", ")
}

func documentElement(doc *html.Node) *html.Node {
	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Html {
			return c
		}
	}
	return nil
}
