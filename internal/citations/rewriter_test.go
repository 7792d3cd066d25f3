package citations

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func tag(text string, links ...string) string {
	return TaggedSegment{Text: text, Links: links}.String()
}

func TestRewrite_Scenarios(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "single grounded span",
			in:   "The sky is blue" + tag("blue", "[NASA](https://nasa.gov)"),
			want: "The sky is blue [1]\nSources:\n1. [NASA](https://nasa.gov)\n",
		},
		{
			name: "same link in two spans",
			in: "Go is fast." + tag("Go is fast", "[Go](https://go.dev)") +
				" Go is simple." + tag("Go is simple", "[Go](https://go.dev)"),
			want: "Go is fast [1]. Go is simple [1].\nSources:\n1. [Go](https://go.dev)\n",
		},
		{
			name: "two links in one span",
			in:   "Water boils at 100C." + tag("Water boils at 100C", "[A](https://a.org)", "[B](https://b.org)"),
			want: "Water boils at 100C [1], [2].\nSources:\n1. [A](https://a.org)\n2. [B](https://b.org)\n",
		},
		{
			name: "no markup",
			in:   "Just a plain answer.",
			want: "Just a plain answer.",
		},
		{
			name: "malformed tag left verbatim",
			in:   "Hello <ws_text>world<ws_url>[A](https://a)",
			want: "Hello <ws_text>world<ws_url>[A](https://a)",
		},
	}
	for _, mode := range []Mode{ModeReplaceAll, ModeAnchored} {
		rw := NewRewriter(mode, zap.NewNop())
		for _, tt := range tests {
			t.Run(string(mode)+"/"+tt.name, func(t *testing.T) {
				res, err := rw.Rewrite(tt.in)
				require.NoError(t, err)
				assert.Equal(t, tt.want, res.Text)
			})
		}
	}
}

func TestRewrite_MalformedReportsDiagnostics(t *testing.T) {
	rw := NewRewriter(ModeReplaceAll, zap.NewNop())
	res, err := rw.Rewrite("Hello <ws_text>world<ws_url>[A](https://a)")
	require.NoError(t, err)
	assert.False(t, res.Changed())
	assert.Len(t, res.Diagnostics, 2)
	assert.Empty(t, res.Sources)
}

func TestRewrite_Idempotent(t *testing.T) {
	in := "Alpha is first." + tag("Alpha is first", "[A](https://a)") +
		" Beta follows." + tag("Beta follows", "[B](https://b)", "[A](https://a)")

	for _, mode := range []Mode{ModeReplaceAll, ModeAnchored} {
		t.Run(string(mode), func(t *testing.T) {
			rw := NewRewriter(mode, zap.NewNop())
			first, err := rw.Rewrite(in)
			require.NoError(t, err)
			second, err := rw.Rewrite(first.Text)
			require.NoError(t, err)
			assert.Equal(t, first.Text, second.Text)
			assert.False(t, second.Changed())
		})
	}
}

func TestRewrite_DedupAndOrdering(t *testing.T) {
	in := "one" + tag("one", "[B](https://b)") +
		" two" + tag("two", "[A](https://a)", "[B](https://b)") +
		" three" + tag("three", "[C](https://c)", "[A](https://a)")

	rw := NewRewriter(ModeReplaceAll, zap.NewNop())
	res, err := rw.Rewrite(in)
	require.NoError(t, err)

	assert.Equal(t, []string{"[B](https://b)", "[A](https://a)", "[C](https://c)"}, res.Sources)
	assert.Equal(t, "one [1] two [2], [1] three [3], [2]\nSources:\n1. [B](https://b)\n2. [A](https://a)\n3. [C](https://c)\n", res.Text)

	seen := map[string]bool{}
	for _, s := range res.Sources {
		assert.False(t, seen[s], "duplicate source %s", s)
		seen[s] = true
	}
	assert.Equal(t, 3, res.Segments)
}

func TestRewrite_EmptySegmentLeavesMessageUnchanged(t *testing.T) {
	in := "Text" + tag("", "[A](https://a)")
	rw := NewRewriter(ModeReplaceAll, zap.NewNop())
	res, err := rw.Rewrite(in)
	require.ErrorIs(t, err, ErrEmptySegment)
	assert.Equal(t, in, res.Text)
}

func TestRewrite_EmptyLinkListRemovesTagOnly(t *testing.T) {
	rw := NewRewriter(ModeReplaceAll, zap.NewNop())
	res, err := rw.Rewrite("Claim." + tag("Claim"))
	require.NoError(t, err)
	assert.Equal(t, "Claim.", res.Text)
	assert.Empty(t, res.Sources)
}

func TestRewrite_RawLinkCitedVerbatim(t *testing.T) {
	rw := NewRewriter(ModeReplaceAll, zap.NewNop())
	res, err := rw.Rewrite("x<ws_text>a<ws_url>foo</ws_url></ws_text> a")
	require.NoError(t, err)
	assert.Equal(t, "x a [foo]\nSources:\n1. foo\n", res.Text)
	assert.Equal(t, []string{"foo"}, res.Sources)
}

func TestRewrite_UnplacedSpanStillListsSource(t *testing.T) {
	rw := NewRewriter(ModeReplaceAll, zap.NewNop())
	res, err := rw.Rewrite("Visible text." + tag("not present", "[A](https://a)"))
	require.NoError(t, err)
	assert.Equal(t, "Visible text.\nSources:\n1. [A](https://a)\n", res.Text)
	assert.Equal(t, 1, res.Unplaced)
}

func TestRewrite_DuplicateTextCollision(t *testing.T) {
	in := "Paris is big." + tag("Paris is big", "[A](https://a)") +
		" Later: Paris is big." + tag("Paris is big", "[B](https://b)")

	replaceAll, err := NewRewriter(ModeReplaceAll, zap.NewNop()).Rewrite(in)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(replaceAll.Text, "Paris is big [2] [1]. Later: Paris is big [2] [1]."))

	anchored, err := NewRewriter(ModeAnchored, zap.NewNop()).Rewrite(in)
	require.NoError(t, err)
	assert.Equal(t, "Paris is big [1]. Later: Paris is big [2].\nSources:\n1. [A](https://a)\n2. [B](https://b)\n", anchored.Text)
}

func TestRewrite_AnchoredSkipsClaimedOccurrence(t *testing.T) {
	in := "A b. A b." + tag("A b", "[X](https://x)") + tag("A b", "[Y](https://y)")
	res, err := NewRewriter(ModeAnchored, zap.NewNop()).Rewrite(in)
	require.NoError(t, err)
	assert.Equal(t, "A b [2]. A b [1].\nSources:\n1. [X](https://x)\n2. [Y](https://y)\n", res.Text)
}

func TestRewrite_AnchoredFallsForwardWhenNothingPrecedes(t *testing.T) {
	in := tag("later claim", "[X](https://x)") + "Intro then a later claim."
	res, err := NewRewriter(ModeAnchored, zap.NewNop()).Rewrite(in)
	require.NoError(t, err)
	assert.Equal(t, "Intro then a later claim [1].\nSources:\n1. [X](https://x)\n", res.Text)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeReplaceAll, m)

	m, err = ParseMode(" Anchored ")
	require.NoError(t, err)
	assert.Equal(t, ModeAnchored, m)

	_, err = ParseMode("fuzzy")
	assert.Error(t, err)
}

func TestRewriter_SetMode(t *testing.T) {
	rw := NewRewriter("", nil)
	assert.Equal(t, ModeReplaceAll, rw.Mode())
	rw.SetMode(ModeAnchored)
	assert.Equal(t, ModeAnchored, rw.Mode())
}
