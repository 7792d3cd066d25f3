package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HeartbeatInterval is the interval at which to send SSE keepalive comments.
const HeartbeatInterval = 30 * time.Second

// ErrStreamNotStarted wraps an error that arrived before any byte of the
// response was written, so the caller can still send a proper error status.
var ErrStreamNotStarted = errors.New("stream failed before first chunk")

type fragment struct {
	text string
	err  error
}

// Streamer writes annotated fragments as OpenAI chat.completion.chunk events.
type Streamer struct {
	logger          *zap.Logger
	completionID    string
	modelName       string
	created         int64
	sentRole        bool
	metrics         *MetricsRecorder
	heartbeat       time.Duration
	lastClientWrite time.Time
}

// NewStreamer creates a new response streamer.
func NewStreamer(logger *zap.Logger, modelName string, metrics *MetricsRecorder, heartbeat time.Duration) *Streamer {
	if heartbeat <= 0 {
		heartbeat = HeartbeatInterval
	}
	return &Streamer{
		logger:          logger,
		completionID:    GenerateCompletionID(),
		modelName:       modelName,
		created:         time.Now().Unix(),
		metrics:         metrics,
		heartbeat:       heartbeat,
		lastClientWrite: time.Now(),
	}
}

// Stream relays seq to w. An error before the first fragment is returned
// wrapped in ErrStreamNotStarted with nothing written. A later error is
// written as a final error chunk followed by [DONE]; fragments already sent
// stand.
func (s *Streamer) Stream(ctx context.Context, w http.ResponseWriter, seq iter.Seq2[string, error]) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("%w: streaming not supported", ErrStreamNotStarted)
	}

	// The relay goroutine lets heartbeats go out while upstream is idle. It
	// hands fragments over unbuffered, so at most one fragment is pulled
	// while the previous one is being written, and none after cancellation.
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	ch := make(chan fragment)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(ch)
		for text, err := range seq {
			select {
			case ch <- fragment{text: text, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil || ctx.Err() != nil {
				return
			}
		}
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	started := false
	start := func() {
		if started {
			return
		}
		started = true
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
		w.WriteHeader(http.StatusOK)
	}

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if started {
				s.writeDone(w, flusher)
			}
			return ctx.Err()

		case <-ticker.C:
			if started && time.Since(s.lastClientWrite) >= s.heartbeat {
				s.writeHeartbeat(w, flusher)
			}

		case f, ok := <-ch:
			if !ok {
				if err := ctx.Err(); err != nil {
					if started {
						s.writeDone(w, flusher)
					}
					return err
				}
				start()
				s.writeFinalChunk(w, flusher)
				s.writeDone(w, flusher)
				return nil
			}
			if f.err != nil {
				if !started {
					return fmt.Errorf("%w: %w", ErrStreamNotStarted, f.err)
				}
				s.logger.Warn("Stream interrupted", zap.String("model", s.modelName), zap.Error(f.err))
				s.writeErrorChunk(w, flusher, f.err.Error())
				s.writeDone(w, flusher)
				return f.err
			}
			if f.text == "" {
				continue
			}
			start()
			s.writeContentChunk(w, flusher, f.text)
		}
	}
}

func (s *Streamer) newChunk(delta *ChatDelta, finish *string) ChatCompletionChunk {
	return ChatCompletionChunk{
		ID:      s.completionID,
		Object:  "chat.completion.chunk",
		Created: s.created,
		Model:   s.modelName,
		Choices: []Choice{{Index: 0, Delta: delta, FinishReason: finish}},
	}
}

func (s *Streamer) writeContentChunk(w http.ResponseWriter, flusher http.Flusher, content string) {
	delta := &ChatDelta{Content: content}
	// First chunk includes role
	if !s.sentRole {
		delta.Role = "assistant"
		s.sentRole = true
	}
	s.writeChunk(w, flusher, s.newChunk(delta, nil))
	if s.metrics != nil {
		s.metrics.RecordStreamChunk()
	}
}

func (s *Streamer) writeFinalChunk(w http.ResponseWriter, flusher http.Flusher) {
	delta := &ChatDelta{}
	if !s.sentRole {
		delta.Role = "assistant"
		s.sentRole = true
	}
	s.writeChunk(w, flusher, s.newChunk(delta, stopReason()))
}

// writeErrorChunk writes an error as a final chunk.
func (s *Streamer) writeErrorChunk(w http.ResponseWriter, flusher http.Flusher, message string) {
	s.writeChunk(w, flusher, s.newChunk(&ChatDelta{Content: "\n\n[Error: " + message + "]"}, stopReason()))
}

func (s *Streamer) writeChunk(w http.ResponseWriter, flusher http.Flusher, chunk ChatCompletionChunk) {
	data, err := json.Marshal(chunk)
	if err != nil {
		s.logger.Error("Failed to marshal chunk", zap.Error(err))
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
	s.lastClientWrite = time.Now()
}

// writeHeartbeat writes an SSE comment as a keepalive signal.
func (s *Streamer) writeHeartbeat(w http.ResponseWriter, flusher http.Flusher) {
	fmt.Fprintf(w, ": keepalive\n\n")
	flusher.Flush()
	s.lastClientWrite = time.Now()
}

func (s *Streamer) writeDone(w http.ResponseWriter, flusher http.Flusher) {
	fmt.Fprintf(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// CompletionID returns the id shared by every chunk of this stream.
func (s *Streamer) CompletionID() string {
	return s.completionID
}
