package citations

import (
	"iter"

	"google.golang.org/genai"
)

func textChunk(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: "model", Parts: []*genai.Part{{Text: text}}},
		}},
	}
}

func webChunk(title, uri string) *genai.GroundingChunk {
	return &genai.GroundingChunk{Web: &genai.GroundingChunkWeb{Title: title, URI: uri}}
}

func support(text string, indices ...int32) *genai.GroundingSupport {
	return &genai.GroundingSupport{
		Segment:               &genai.Segment{Text: text},
		GroundingChunkIndices: indices,
	}
}

func groundedChunk(text string, chunks []*genai.GroundingChunk, supports ...*genai.GroundingSupport) *genai.GenerateContentResponse {
	resp := textChunk(text)
	resp.Candidates[0].GroundingMetadata = &genai.GroundingMetadata{
		GroundingChunks:   chunks,
		GroundingSupports: supports,
	}
	return resp
}

// replay yields the given responses, then err if non-nil. pulled counts how
// many responses were handed out.
func replay(pulled *int, err error, responses ...*genai.GenerateContentResponse) iter.Seq2[*genai.GenerateContentResponse, error] {
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		for _, r := range responses {
			if pulled != nil {
				*pulled++
			}
			if !yield(r, nil) {
				return
			}
		}
		if err != nil {
			yield(nil, err)
		}
	}
}
