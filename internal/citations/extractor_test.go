package citations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestExtract_PlainChunk(t *testing.T) {
	g := Extract(textChunk("The sky is blue"))
	assert.Equal(t, "The sky is blue", g.Text)
	assert.Empty(t, g.Spans)
	assert.Empty(t, g.Skipped)
}

func TestExtract_NilAndEmpty(t *testing.T) {
	assert.Equal(t, Grounding{}, Extract(nil))
	assert.Equal(t, Grounding{}, Extract(&genai.GenerateContentResponse{}))
}

func TestExtract_ResolvesSupports(t *testing.T) {
	resp := groundedChunk("The sky is blue and grass is green.",
		[]*genai.GroundingChunk{
			webChunk("NASA", "https://nasa.gov"),
			webChunk("Botany", "https://plants.example"),
		},
		support("The sky is blue", 0),
		support("grass is green", 1, 0),
	)

	g := Extract(resp)
	require.Len(t, g.Spans, 2)
	assert.Equal(t, Span{Text: "The sky is blue", Links: []string{"[NASA](https://nasa.gov)"}}, g.Spans[0])
	assert.Equal(t, []string{"[Botany](https://plants.example)", "[NASA](https://nasa.gov)"}, g.Spans[1].Links)
}

func TestExtract_SkipsMalformedMetadata(t *testing.T) {
	resp := groundedChunk("text",
		[]*genai.GroundingChunk{
			{}, // no web source, keeps index 0 occupied
			webChunk("B", "https://b.example"),
			nil,
		},
		support("out of range", 7, -1),
		support("only empty sources", 0, 2),
		support("partial", 0, 1, 9),
		&genai.GroundingSupport{GroundingChunkIndices: []int32{1}},
		support("", 1),
		nil,
	)

	g := Extract(resp)
	require.Len(t, g.Spans, 1)
	assert.Equal(t, "partial", g.Spans[0].Text)
	assert.Equal(t, []string{"[B](https://b.example)"}, g.Spans[0].Links)
	assert.Equal(t, []string{SkipNoLinks, SkipNoLinks, SkipNoSegment, SkipEmptyText, SkipNoSegment}, g.Skipped)
}

func TestExtract_RetrievedContextSource(t *testing.T) {
	resp := groundedChunk("doc",
		[]*genai.GroundingChunk{{RetrievedContext: &genai.GroundingChunkRetrievedContext{Title: "Manual", URI: "gs://bucket/manual.pdf"}}},
		support("doc", 0),
	)
	g := Extract(resp)
	require.Len(t, g.Spans, 1)
	assert.Equal(t, []string{"[Manual](gs://bucket/manual.pdf)"}, g.Spans[0].Links)
}

func TestExtract_PerCandidateIndexSpace(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{
				Content: &genai.Content{Parts: []*genai.Part{{Text: "first"}}},
				GroundingMetadata: &genai.GroundingMetadata{
					GroundingChunks:   []*genai.GroundingChunk{webChunk("A", "https://a.example")},
					GroundingSupports: []*genai.GroundingSupport{support("first", 0)},
				},
			},
			{
				Content: &genai.Content{Parts: []*genai.Part{{Text: "second"}}},
				GroundingMetadata: &genai.GroundingMetadata{
					GroundingChunks:   []*genai.GroundingChunk{webChunk("B", "https://b.example")},
					GroundingSupports: []*genai.GroundingSupport{support("second", 0)},
				},
			},
		},
	}

	g := Extract(resp)
	assert.Equal(t, "first", g.Text)
	require.Len(t, g.Spans, 2)
	assert.Equal(t, []string{"[A](https://a.example)"}, g.Spans[0].Links)
	assert.Equal(t, []string{"[B](https://b.example)"}, g.Spans[1].Links)
}

func TestExtract_SkipsThoughtParts(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "thinking...", Thought: true},
				{Text: "Answer"},
				nil,
				{Text: "."},
			}},
		}},
	}
	assert.Equal(t, "Answer.", Extract(resp).Text)
}
