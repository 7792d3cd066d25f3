package citations

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/grounding/internal/metrics"
)

// ErrEmptySegment is returned when a tagged segment has no text to cite.
var ErrEmptySegment = errors.New("tagged segment has empty text")

// Mode selects how cited spans are located in the base text.
type Mode string

const (
	// ModeReplaceAll cites every occurrence of a span's text. This is the
	// historical wire behaviour.
	ModeReplaceAll Mode = "replace_all"
	// ModeAnchored cites only the nearest uncited occurrence preceding the
	// position where the span's tag sat.
	ModeAnchored Mode = "anchored"
)

// ParseMode validates a mode name. The empty string selects ModeReplaceAll.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeReplaceAll:
		return ModeReplaceAll, nil
	case ModeAnchored:
		return ModeAnchored, nil
	}
	return "", fmt.Errorf("unknown rewrite mode %q", s)
}

// Result is the outcome of reconciling one message.
type Result struct {
	Text        string
	Sources     []string
	Segments    int
	Diagnostics []Diagnostic
	// Unplaced counts citations whose span text was not found in the base text.
	Unplaced int
}

// Changed reports whether any markup was reconciled.
func (r Result) Changed() bool {
	return r.Segments > 0
}

// Rewriter reconciles sentinel markup into inline citations and a Sources
// block. It holds no per-message state and is safe for concurrent use.
type Rewriter struct {
	mode   atomic.Value // Mode
	logger *zap.Logger
}

// NewRewriter creates a rewriter using mode.
func NewRewriter(mode Mode, logger *zap.Logger) *Rewriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Rewriter{logger: logger}
	r.SetMode(mode)
	return r
}

// SetMode switches the rewrite mode for subsequent calls.
func (r *Rewriter) SetMode(mode Mode) {
	if mode == "" {
		mode = ModeReplaceAll
	}
	r.mode.Store(mode)
}

// Mode returns the active rewrite mode.
func (r *Rewriter) Mode() Mode {
	return r.mode.Load().(Mode)
}

// Rewrite strips every tagged segment from message, cites the spans they name
// and appends the numbered Sources list. A message without markup is returned
// unchanged. On error the unmodified message is returned as Result.Text.
func (r *Rewriter) Rewrite(message string) (Result, error) {
	if !HasMarkup(message) {
		return Result{Text: message}, nil
	}
	start := time.Now()
	mode := r.Mode()

	parsed := Parse(message)
	for _, d := range parsed.Diagnostics {
		metrics.RecordDiagnostic(d.Tag)
		r.logger.Warn("Unmatched sentinel tag left in message",
			zap.String("tag", d.Tag),
			zap.Int("offset", d.Offset))
	}
	if len(parsed.Segments) == 0 {
		return Result{Text: message, Diagnostics: parsed.Diagnostics}, nil
	}
	for _, seg := range parsed.Segments {
		if seg.Text == "" {
			metrics.ReconcileErrors.WithLabelValues("empty_segment").Inc()
			return Result{Text: message, Diagnostics: parsed.Diagnostics},
				fmt.Errorf("%w (offset %d)", ErrEmptySegment, seg.Start)
		}
	}

	sources := NewSourceList()
	var text string
	var unplaced int
	switch mode {
	case ModeAnchored:
		text, unplaced = r.anchored(parsed, sources)
	default:
		text, unplaced = r.replaceAll(parsed, sources)
	}
	text += sources.Render()

	metrics.RecordReconcile(string(mode), len(parsed.Segments), sources.Len(), time.Since(start).Seconds())
	r.logger.Debug("Reconciled citations",
		zap.String("mode", string(mode)),
		zap.Int("segments", len(parsed.Segments)),
		zap.Int("sources", sources.Len()),
		zap.Int("unplaced", unplaced))

	return Result{
		Text:        text,
		Sources:     sources.Entries(),
		Segments:    len(parsed.Segments),
		Diagnostics: parsed.Diagnostics,
		Unplaced:    unplaced,
	}, nil
}

// replaceAll rewrites every occurrence of each span, in segment order, on the
// progressively rewritten text.
func (r *Rewriter) replaceAll(parsed ParseResult, sources *SourceList) (string, int) {
	text := parsed.Base
	unplaced := 0
	for _, seg := range parsed.Segments {
		cite := sources.Cite(seg.LinkField)
		if cite.Empty() {
			continue
		}
		if !strings.Contains(text, seg.Text) {
			unplaced++
			r.logger.Debug("Cited span not found in message", zap.String("span", preview(seg.Text, 80)))
			continue
		}
		text = strings.ReplaceAll(text, seg.Text, seg.Text+" "+cite.String())
	}
	return text, unplaced
}

type insertion struct {
	at   int
	cite string
}

type occurrence struct {
	start, length int
}

// anchored cites, for each segment, the nearest uncited occurrence of its span
// ending at or before the segment's anchor. When none precedes the anchor the
// first uncited occurrence anywhere is used. All insertions are applied in one
// pass over the base text.
func (r *Rewriter) anchored(parsed ParseResult, sources *SourceList) (string, int) {
	base := parsed.Base
	claimed := make(map[occurrence]bool)
	var ins []insertion
	unplaced := 0

	for _, seg := range parsed.Segments {
		cite := sources.Cite(seg.LinkField)
		if cite.Empty() {
			continue
		}
		start := nearestBefore(base, seg.Text, seg.Anchor, claimed)
		if start < 0 {
			start = firstUnclaimed(base, seg.Text, claimed)
		}
		if start < 0 {
			unplaced++
			r.logger.Debug("Cited span not found in message", zap.String("span", preview(seg.Text, 80)))
			continue
		}
		claimed[occurrence{start, len(seg.Text)}] = true
		ins = append(ins, insertion{at: start + len(seg.Text), cite: cite.String()})
	}

	sort.SliceStable(ins, func(i, j int) bool { return ins[i].at < ins[j].at })

	var b strings.Builder
	b.Grow(len(base) + 8*len(ins))
	prev := 0
	for _, in := range ins {
		b.WriteString(base[prev:in.at])
		b.WriteString(" ")
		b.WriteString(in.cite)
		prev = in.at
	}
	b.WriteString(base[prev:])
	return b.String(), unplaced
}

func nearestBefore(base, text string, anchor int, claimed map[occurrence]bool) int {
	if anchor > len(base) {
		anchor = len(base)
	}
	end := anchor
	for end >= len(text) {
		i := strings.LastIndex(base[:end], text)
		if i < 0 {
			return -1
		}
		if !claimed[occurrence{i, len(text)}] {
			return i
		}
		end = i + len(text) - 1
	}
	return -1
}

func firstUnclaimed(base, text string, claimed map[occurrence]bool) int {
	from := 0
	for from <= len(base)-len(text) {
		i := strings.Index(base[from:], text)
		if i < 0 {
			return -1
		}
		if !claimed[occurrence{from + i, len(text)}] {
			return from + i
		}
		from += i + 1
	}
	return -1
}
