package citations

import (
	"iter"
	"strings"

	"google.golang.org/genai"

	"github.com/Kocoro-lab/Shannon/go/grounding/internal/metrics"
)

// Encode renders a chunk's text followed by one TaggedSegment per grounded
// span. A chunk without spans encodes to its plain text unchanged.
func Encode(g Grounding) string {
	if len(g.Spans) == 0 {
		return g.Text
	}
	var b strings.Builder
	b.WriteString(g.Text)
	for _, span := range g.Spans {
		b.WriteString(TaggedSegment{Text: span.Text, Links: span.Links}.String())
	}
	return b.String()
}

// Annotate turns a stream of provider chunks into a stream of text fragments,
// one per upstream chunk in arrival order, each carrying its grounding
// trailer. Upstream is pulled only as the consumer pulls. An upstream error is
// yielded once as ("", err) and ends the sequence.
func Annotate(src iter.Seq2[*genai.GenerateContentResponse, error]) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for resp, err := range src {
			if err != nil {
				yield("", err)
				return
			}
			g := Extract(resp)
			metrics.GroundingSpansEncoded.Add(float64(len(g.Spans)))
			for _, reason := range g.Skipped {
				metrics.GroundingSupportsSkipped.WithLabelValues(reason).Inc()
			}
			if !yield(Encode(g), nil) {
				return
			}
		}
	}
}

// Collect drains seq and concatenates its fragments. On a stream error it
// returns the text assembled so far together with the error.
func Collect(seq iter.Seq2[string, error]) (string, error) {
	var b strings.Builder
	for fragment, err := range seq {
		if err != nil {
			return b.String(), err
		}
		b.WriteString(fragment)
	}
	return b.String(), nil
}
