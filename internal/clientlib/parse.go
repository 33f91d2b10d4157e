package clientlib

import (
	"context"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/conneroisu/aemfed/internal/errors"
	"github.com/conneroisu/aemfed/internal/logging"
)

// Columns of the dumplibs table.
const (
	colName = iota
	colTypes
	colCategories
	colTheme
	colChannels
	colDependencies
	colEmbedded
	columnCount
)

type link struct {
	href string
	text string
}

// parseTable reads the first table of a dumplibs page. Rows without exactly
// seven data cells, such as the header row, are skipped.
func parseTable(r io.Reader, logger logging.Logger) ([]Library, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeParse, "ERR_PARSE_DUMPLIBS", "cannot parse client library page")
	}

	table := findFirst(doc, atom.Table)
	if table == nil {
		return nil, errors.NewParseError("ERR_PARSE_DUMPLIBS", "client library page has no table")
	}

	var libs []Library
	for _, row := range findAll(table, atom.Tr) {
		cells := children(row, atom.Td)
		if len(cells) != columnCount {
			continue
		}

		lib, ok := parseRow(cells, logger)
		if ok {
			libs = append(libs, lib)
		}
	}
	return libs, nil
}

func parseRow(cells []*html.Node, logger logging.Logger) (Library, bool) {
	names := links(cells[colName])
	if len(names) == 0 {
		logger.Debug(context.Background(), "row without a name skipped")
		return Library{}, false
	}

	lib := Library{
		Name:         names[0].text,
		Categories:   texts(links(cells[colCategories])),
		Channels:     texts(links(cells[colChannels])),
		Dependencies: texts(links(cells[colDependencies])),
		Embedded:     texts(links(cells[colEmbedded])),
		Theme:        strings.TrimSpace(textContent(cells[colTheme])),
	}

	for _, t := range links(cells[colTypes]) {
		switch t.text {
		case "JS":
			lib.JS = t.href
		case "CSS":
			lib.CSS = t.href
		default:
			logger.Warn(context.Background(), nil, "unknown client library type", "library", lib.Name, "type", t.text)
		}
	}

	return lib, true
}

func links(cell *html.Node) []link {
	var out []link
	for _, a := range findAll(cell, atom.A) {
		href, ok := attr(a, "href")
		if !ok {
			continue
		}
		out = append(out, link{href: href, text: strings.TrimSpace(textContent(a))})
	}
	return out
}

func texts(ls []link) []string {
	out := make([]string, 0, len(ls))
	for _, l := range ls {
		out = append(out, l.text)
	}
	return out
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(n)
	return sb.String()
}

func findFirst(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, a); found != nil {
			return found
		}
	}
	return nil
}

func findAll(n *html.Node, a atom.Atom) []*html.Node {
	var out []*html.Node
	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == a {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		traverse(c)
	}
	return out
}

// children returns the direct element children of n with the given atom.
func children(n *html.Node, a atom.Atom) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == a {
			out = append(out, c)
		}
	}
	return out
}
