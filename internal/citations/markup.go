// Package citations embeds grounding citations into streamed model output as
// sentinel markup and later reconciles that markup into numbered inline
// citations followed by a Sources list.
package citations

import (
	"strings"
)

// Sentinel tags. The grammar is
//
//	<ws_text>{TEXT}<ws_url>{LINK_LIST}</ws_url></ws_text>
//
// and must stay bit-exact: already-persisted conversations carry it.
const (
	TextOpen  = "<ws_text>"
	URLOpen   = "<ws_url>"
	URLClose  = "</ws_url>"
	TextClose = "</ws_text>"

	// LinkSeparator joins rendered links inside a LINK_LIST.
	LinkSeparator = ", "
)

// Reference is one web source attached to a grounded span.
type Reference struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// Render returns the markdown link form "[title](uri)". The rendered string is
// the identity used for source deduplication.
func (r Reference) Render() string {
	return "[" + r.Title + "](" + r.URI + ")"
}

// TaggedSegment is a cited span plus the rendered links supporting it.
type TaggedSegment struct {
	Text  string
	Links []string
}

// String serializes the segment as sentinel markup.
func (s TaggedSegment) String() string {
	var b strings.Builder
	b.Grow(len(TextOpen) + len(s.Text) + len(URLOpen) + len(URLClose) + len(TextClose) + 64)
	b.WriteString(TextOpen)
	b.WriteString(s.Text)
	b.WriteString(URLOpen)
	b.WriteString(strings.Join(s.Links, LinkSeparator))
	b.WriteString(URLClose)
	b.WriteString(TextClose)
	return b.String()
}

// HasMarkup reports whether text carries any sentinel opening tag.
func HasMarkup(text string) bool {
	return strings.Contains(text, TextOpen)
}

// SplitLinks splits a LINK_LIST into its candidate links, dropping empty ones.
func SplitLinks(field string) []string {
	if field == "" {
		return nil
	}
	parts := strings.Split(field, LinkSeparator)
	out := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// preview shortens s for log fields.
func preview(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
