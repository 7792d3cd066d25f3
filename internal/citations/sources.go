package citations

import (
	"regexp"
	"strconv"
	"strings"
)

var markdownLink = regexp.MustCompile(`^\[.*?\]\(.*?\)`)

// SourceList is the ordered set of unique rendered links for one message.
// Positions are 1-based and assigned on first insertion.
type SourceList struct {
	entries []string
	index   map[string]int
}

// NewSourceList returns an empty list.
func NewSourceList() *SourceList {
	return &SourceList{index: make(map[string]int)}
}

// Add inserts link if unseen and returns its position.
func (s *SourceList) Add(link string) int {
	if pos, ok := s.index[link]; ok {
		return pos
	}
	s.entries = append(s.entries, link)
	pos := len(s.entries)
	s.index[link] = pos
	return pos
}

// Position returns the position of link, if listed.
func (s *SourceList) Position(link string) (int, bool) {
	pos, ok := s.index[link]
	return pos, ok
}

// Len returns the number of unique sources.
func (s *SourceList) Len() int {
	return len(s.entries)
}

// Entries returns a copy of the sources in position order.
func (s *SourceList) Entries() []string {
	out := make([]string, len(s.entries))
	copy(out, s.entries)
	return out
}

// Cite indexes every candidate link in a LINK_LIST and returns the inline
// citation for them. Every candidate is listed, but only markdown links get
// a position; a field with no markdown link at all is cited by its raw text.
func (s *SourceList) Cite(linkField string) Citation {
	links := SplitLinks(linkField)
	if len(links) == 0 {
		return Citation{}
	}
	c := Citation{Positions: make([]int, 0, len(links))}
	for _, link := range links {
		pos := s.Add(link)
		if markdownLink.MatchString(link) {
			c.Positions = append(c.Positions, pos)
		}
	}
	if len(c.Positions) == 0 {
		c.Raw = strings.TrimSpace(linkField)
	}
	return c
}

// Render builds the Sources block appended after the rewritten text. An empty
// list renders as "".
func (s *SourceList) Render() string {
	if len(s.entries) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\nSources:\n")
	for i, link := range s.entries {
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(link)
		b.WriteString("\n")
	}
	return b.String()
}

// Citation is the inline form of one segment's sources.
type Citation struct {
	Positions []int
	// Raw is the link field itself when none of its candidates is a
	// markdown link.
	Raw string
}

// String renders "[1]" or "[1], [3]", or "[raw]" for a raw field; an empty
// citation renders as "".
func (c Citation) String() string {
	if len(c.Positions) == 0 && c.Raw != "" {
		return "[" + c.Raw + "]"
	}
	parts := make([]string, len(c.Positions))
	for i, pos := range c.Positions {
		parts[i] = "[" + strconv.Itoa(pos) + "]"
	}
	return strings.Join(parts, LinkSeparator)
}

// Empty reports whether the citation has nothing to show.
func (c Citation) Empty() bool {
	return len(c.Positions) == 0 && c.Raw == ""
}
