package citations

import (
	"strings"

	"google.golang.org/genai"
)

// Reasons a grounding support is dropped during extraction.
const (
	SkipNoSegment = "no_segment"
	SkipEmptyText = "empty_text"
	SkipNoLinks   = "no_links"
)

// Span is one grounded stretch of text with the rendered links backing it.
type Span struct {
	Text  string
	Links []string
}

// Grounding is what a single streamed chunk contributes: its visible text and
// the grounded spans found in its metadata.
type Grounding struct {
	Text  string
	Spans []Span
	// Skipped lists the reason for every support that was dropped.
	Skipped []string
}

// Extract pulls the plain text and grounded spans out of one streamed
// response chunk. Supports are resolved against the grounding chunks of the
// candidate that carries them; indices outside that list are ignored. It never
// fails: malformed metadata is skipped item by item.
func Extract(resp *genai.GenerateContentResponse) Grounding {
	if resp == nil {
		return Grounding{}
	}
	g := Grounding{Text: chunkText(resp)}

	for _, cand := range resp.Candidates {
		if cand == nil || cand.GroundingMetadata == nil {
			continue
		}
		md := cand.GroundingMetadata
		refs := references(md.GroundingChunks)

		for _, support := range md.GroundingSupports {
			if support == nil || support.Segment == nil {
				g.Skipped = append(g.Skipped, SkipNoSegment)
				continue
			}
			if support.Segment.Text == "" {
				g.Skipped = append(g.Skipped, SkipEmptyText)
				continue
			}
			links := resolve(refs, support.GroundingChunkIndices)
			if len(links) == 0 {
				g.Skipped = append(g.Skipped, SkipNoLinks)
				continue
			}
			g.Spans = append(g.Spans, Span{Text: support.Segment.Text, Links: links})
		}
	}
	return g
}

// chunkText concatenates the non-thought text parts of the first candidate.
// It mirrors GenerateContentResponse.Text without that method's stdlib log
// warnings.
func chunkText(resp *genai.GenerateContentResponse) string {
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought || part.Text == "" {
			continue
		}
		b.WriteString(part.Text)
	}
	return b.String()
}

// references maps grounding chunks to references, keeping positions aligned
// with the chunk list. Chunks with no web or retrieved source stay nil.
func references(chunks []*genai.GroundingChunk) []*Reference {
	refs := make([]*Reference, len(chunks))
	for i, chunk := range chunks {
		if chunk == nil {
			continue
		}
		switch {
		case chunk.Web != nil && chunk.Web.URI != "":
			refs[i] = &Reference{Title: chunk.Web.Title, URI: chunk.Web.URI}
		case chunk.RetrievedContext != nil && chunk.RetrievedContext.URI != "":
			refs[i] = &Reference{Title: chunk.RetrievedContext.Title, URI: chunk.RetrievedContext.URI}
		}
	}
	return refs
}

func resolve(refs []*Reference, indices []int32) []string {
	var links []string
	for _, idx := range indices {
		if idx < 0 || int(idx) >= len(refs) || refs[idx] == nil {
			continue
		}
		links = append(links, refs[idx].Render())
	}
	return links
}
