// Package sanitize prepares kernel output for safe embedding into a
// document. Malformed or unsafe markup is degraded rather than rejected:
// validate first, escape to plain text second, empty content as the
// last resort. Nothing in this package returns an error.
package sanitize

import (
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Void elements never take a closing tag.
var voidElements = map[atom.Atom]bool{
	atom.Area: true, atom.Base: true, atom.Br: true, atom.Col: true,
	atom.Embed: true, atom.Hr: true, atom.Img: true, atom.Input: true,
	atom.Link: true, atom.Meta: true, atom.Source: true, atom.Track: true,
	atom.Wbr: true,
}

// Elements that are never allowed to pass through verbatim.
var deniedElements = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Iframe: true,
	atom.Object: true, atom.Embed: true, atom.Form: true,
}

// Embed returns content safe to store as a block attribute. degraded is
// true when the input could not be passed through verbatim and a
// fallback representation was substituted.
func Embed(raw string) (clean string, degraded bool) {
	if raw == "" {
		return "", false
	}

	if !utf8.ValidString(raw) {
		fixed := strings.ToValidUTF8(raw, "")
		if strings.TrimSpace(fixed) == "" {
			// Nothing salvageable: empty content is the last resort.
			return "", true
		}
		return html.EscapeString(fixed), true
	}

	if WellFormed(raw) && safe(raw) {
		return raw, false
	}
	return html.EscapeString(raw), true
}

// WellFormed reports whether raw parses as balanced HTML: every opened
// element is closed in order, and tokenization reaches EOF cleanly.
// Plain text with no tags is trivially well formed.
func WellFormed(raw string) bool {
	z := html.NewTokenizer(strings.NewReader(raw))
	// The stack tracks tag names rather than atoms so unknown elements
	// keep their identity and must close under their own name.
	var stack []string
	for {
		switch z.Next() {
		case html.ErrorToken:
			return z.Err() == io.EOF && len(stack) == 0

		case html.StartTagToken:
			name, _ := z.TagName()
			if !voidElements[atom.Lookup(name)] {
				stack = append(stack, string(name))
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			if len(stack) == 0 || stack[len(stack)-1] != string(name) {
				return false
			}
			stack = stack[:len(stack)-1]
		}
	}
}

// safe rejects content carrying executable or event-handler markup.
func safe(raw string) bool {
	z := html.NewTokenizer(strings.NewReader(raw))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return z.Err() == io.EOF

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if deniedElements[atom.Lookup(name)] {
				return false
			}
			for hasAttr {
				var key, val []byte
				key, val, hasAttr = z.TagAttr()
				k := strings.ToLower(string(key))
				if strings.HasPrefix(k, "on") {
					return false
				}
				if k == "href" || k == "src" {
					v := strings.TrimSpace(strings.ToLower(string(val)))
					if strings.HasPrefix(v, "javascript:") {
						return false
					}
				}
			}
		}
	}
}
