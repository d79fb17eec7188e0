// Package catalog reads the memories export document into an ordered list of
// entries.
package catalog

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"snapmem/pkg/memory"
)

var downloadCall = regexp.MustCompile(`downloadMemories\('(https://[^']+)'`)

// Summary counts entries by media type
type Summary struct {
	Videos int
	Images int
	Total  int
}

// Load opens and parses an export document
func Load(path string) ([]memory.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open export: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse extracts one entry per table row that has at least four cells
// (date, media type, location, link) and a downloadMemories link.
// Unknown type labels are treated as images.
func Parse(r io.Reader) ([]memory.Entry, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse export: %w", err)
	}

	var entries []memory.Entry
	seen := make(map[string]int)

	for _, row := range findAll(doc, atom.Tr) {
		cells := childElements(row, atom.Td)
		if len(cells) < 4 {
			continue
		}
		link := linkURL(cells[3])
		if link == "" {
			continue
		}

		index := len(entries) + 1
		rawDate := textContent(cells[0])
		mediaType, _ := memory.ParseMediaType(textContent(cells[1]))

		base := memory.IDFromURL(link)
		id := base
		if n := seen[base]; n > 0 {
			id = fmt.Sprintf("%s-%d", base, n+1)
		}
		seen[base]++

		entry := memory.Entry{
			ID:        id,
			Index:     index,
			RawDate:   rawDate,
			MediaType: mediaType,
			URL:       link,
			Location:  textContent(cells[2]),
		}
		if ts, err := time.Parse(memory.DateLayout, rawDate); err == nil {
			entry.Date = ts.UTC()
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// Summarize counts entries by type
func Summarize(entries []memory.Entry) Summary {
	s := Summary{Total: len(entries)}
	for _, e := range entries {
		if e.MediaType == memory.Video {
			s.Videos++
		} else {
			s.Images++
		}
	}
	return s
}

// SelectTest keeps the first videos videos and the first images images,
// preserving catalog order.
func SelectTest(entries []memory.Entry, videos, images int) []memory.Entry {
	var selected []memory.Entry
	for _, e := range entries {
		switch {
		case e.MediaType == memory.Video && videos > 0:
			videos--
		case e.MediaType == memory.Image && images > 0:
			images--
		default:
			continue
		}
		selected = append(selected, e)
	}
	return selected
}

// Limit keeps at most n entries; n <= 0 keeps everything
func Limit(entries []memory.Entry, n int) []memory.Entry {
	if n <= 0 || n >= len(entries) {
		return entries
	}
	return entries[:n]
}

func findAll(n *html.Node, a atom.Atom) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == a {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func childElements(n *html.Node, a atom.Atom) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == a {
			out = append(out, c)
		}
	}
	return out
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}

func linkURL(cell *html.Node) string {
	for _, a := range findAll(cell, atom.A) {
		for _, attr := range a.Attr {
			if attr.Key != "onclick" {
				continue
			}
			if m := downloadCall.FindStringSubmatch(attr.Val); m != nil {
				return m[1]
			}
		}
	}
	return ""
}
