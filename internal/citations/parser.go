package citations

import (
	"regexp"
	"sort"
	"strings"
)

var segmentPattern = regexp.MustCompile(`(?s)<ws_text>(.*?)<ws_url>(.*?)</ws_url></ws_text>`)

// Segment is one well-formed tagged segment found in a message.
type Segment struct {
	Text      string
	LinkField string
	// Start and End are the byte offsets of the whole tag in the message.
	Start, End int
	// Anchor is the byte offset in the base text where the tag was removed.
	Anchor int
}

// Diagnostic reports a sentinel tag that survived parsing unmatched.
type Diagnostic struct {
	Tag    string `json:"tag"`
	Offset int    `json:"offset"` // byte offset in the base text
}

// ParseResult holds the matched segments in message order and the message with
// every match removed.
type ParseResult struct {
	Segments    []Segment
	Base        string
	Diagnostics []Diagnostic
}

// Parse scans message left to right for non-overlapping tagged segments.
// Malformed markup does not match and stays in Base verbatim; every leftover
// sentinel tag is reported as a Diagnostic.
func Parse(message string) ParseResult {
	locs := segmentPattern.FindAllStringSubmatchIndex(message, -1)
	if len(locs) == 0 {
		return ParseResult{Base: message, Diagnostics: diagnose(message)}
	}

	res := ParseResult{Segments: make([]Segment, 0, len(locs))}
	var b strings.Builder
	b.Grow(len(message))
	prev := 0
	for _, loc := range locs {
		b.WriteString(message[prev:loc[0]])
		res.Segments = append(res.Segments, Segment{
			Text:      message[loc[2]:loc[3]],
			LinkField: message[loc[4]:loc[5]],
			Start:     loc[0],
			End:       loc[1],
			Anchor:    b.Len(),
		})
		prev = loc[1]
	}
	b.WriteString(message[prev:])
	res.Base = b.String()
	res.Diagnostics = diagnose(res.Base)
	return res
}

func diagnose(base string) []Diagnostic {
	if !strings.Contains(base, "<ws_") && !strings.Contains(base, "</ws_") {
		return nil
	}
	var diags []Diagnostic
	for _, tag := range []string{TextOpen, URLOpen, URLClose, TextClose} {
		from := 0
		for {
			i := strings.Index(base[from:], tag)
			if i < 0 {
				break
			}
			diags = append(diags, Diagnostic{Tag: tag, Offset: from + i})
			from += i + len(tag)
		}
	}
	sort.Slice(diags, func(i, j int) bool { return diags[i].Offset < diags[j].Offset })
	return diags
}
