// Package stream drives one model generation and delivers its output to an
// editable message, throttling edits so the platform's rate limits are
// respected while keeping perceived latency low.
//
// The engine is a small state machine:
//
//	Starting -> Streaming -> {Completed, Cancelled, Failed}
//
// Cancellation is cooperative: the session context is checked between
// chunks, never mid-chunk, and already-accumulated text is never lost.
package stream

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"unicode/utf8"

	"github.com/koopa0/relay/internal/log"
)

// ErrProviderStream indicates the provider's chunk stream failed mid-flight.
// The accumulated partial text is still delivered best-effort.
var ErrProviderStream = errors.New("provider stream failed")

// DefaultFlushThreshold is the pending-output size, in characters, that
// triggers a mid-stream edit.
const DefaultFlushThreshold = 120

// Markers appended to the visible output on the corresponding terminal
// state. Cancellation is a normal outcome, not an error, but is marked
// distinctly so the reader knows the response is incomplete.
const (
	stoppedMarker = "\n\n⛔ Stopped"
	failedMarker  = "\n\n⚠️ Generation failed"
)

// State is the engine's lifecycle state.
type State int

const (
	// StateStarting means the generation has not produced output yet.
	StateStarting State = iota

	// StateStreaming means chunks are being consumed.
	StateStreaming

	// StateCompleted means the chunk sequence ended normally.
	StateCompleted

	// StateCancelled means the owner stopped the generation.
	StateCancelled

	// StateFailed means the provider stream raised mid-flight.
	StateFailed
)

// String implements fmt.Stringer for logging.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// Chunk is one fragment of model output. A Chunk with empty Text is legal
// and skipped.
type Chunk struct {
	Text string
}

// Streamer produces the model's response to a prompt as a lazy chunk
// sequence, the shape genai's SendMessageStream yields. The sequence ends
// on exhaustion or yields a non-nil error and stops.
type Streamer interface {
	Stream(ctx context.Context, prompt string) iter.Seq2[Chunk, error]
}

// Editor replaces the visible content of the output message.
//
// Edit is the throttled mid-stream update; failures are logged and skipped,
// never retried. Finish publishes the terminal content and detaches any
// interactive control bound to the message.
type Editor interface {
	Edit(ctx context.Context, content string) error
	Finish(ctx context.Context, content string) error
}

// Result is the outcome of one generation.
type Result struct {
	// State is the terminal state reached.
	State State

	// Text is the full accumulated output, without terminal markers.
	Text string
}

// Engine runs generations. Safe for concurrent use; all per-generation
// state lives in Run's frame.
type Engine struct {
	threshold int
	logger    log.Logger
}

// NewEngine creates an Engine flushing pending output once it reaches
// threshold characters. A non-positive threshold uses the default.
func NewEngine(threshold int, logger log.Logger) *Engine {
	if threshold <= 0 {
		threshold = DefaultFlushThreshold
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Engine{threshold: threshold, logger: logger}
}

// Run streams the response for prompt into editor until the sequence ends,
// ctx is cancelled, or the stream fails.
//
// The returned error is non-nil only in the Failed state, wrapped in
// ErrProviderStream. Cancellation yields a nil error; it is an expected
// outcome. Edits within one Run are strictly serialized, so the sink sees
// content of non-decreasing length.
func (e *Engine) Run(ctx context.Context, streamer Streamer, editor Editor, prompt string) (Result, error) {
	e.logger.Debug("generation starting", "state", StateStarting, "prompt_chars", len(prompt))

	var full strings.Builder
	pending := 0
	cancelled := ctx.Err() != nil
	var streamErr error

	if !cancelled {
		for chunk, err := range streamer.Stream(ctx, prompt) {
			if err != nil {
				if errors.Is(err, context.Canceled) {
					cancelled = true
				} else {
					streamErr = err
				}
				break
			}

			if chunk.Text != "" {
				full.WriteString(chunk.Text)
				pending += utf8.RuneCountInString(chunk.Text)

				if pending >= e.threshold {
					if err := editor.Edit(ctx, full.String()); err != nil {
						// Best-effort: a dropped intermediate edit is
						// superseded by the next flush.
						e.logger.Warn("streaming edit failed", "error", err)
					}
					pending = 0
				}
			}

			// Cancellation is observed between chunks: checked after each
			// chunk is handled, before the next one is pulled.
			if ctx.Err() != nil {
				cancelled = true
				break
			}
		}
	}

	// Terminal edits must go out even when the session context is dead.
	final := context.WithoutCancel(ctx)
	text := full.String()

	switch {
	case streamErr != nil:
		if err := editor.Finish(final, text+failedMarker); err != nil {
			e.logger.Warn("terminal edit failed", "state", StateFailed, "error", err)
		}
		e.logger.Error("generation failed", "state", StateFailed, "chars", len(text), "error", streamErr)
		return Result{State: StateFailed, Text: text}, fmt.Errorf("%w: %w", ErrProviderStream, streamErr)

	case cancelled:
		if err := editor.Finish(final, text+stoppedMarker); err != nil {
			e.logger.Warn("terminal edit failed", "state", StateCancelled, "error", err)
		}
		e.logger.Info("generation cancelled", "state", StateCancelled, "chars", len(text))
		return Result{State: StateCancelled, Text: text}, nil

	default:
		if err := editor.Finish(final, text); err != nil {
			e.logger.Warn("terminal edit failed", "state", StateCompleted, "error", err)
		}
		e.logger.Info("generation completed", "state", StateCompleted, "chars", len(text))
		return Result{State: StateCompleted, Text: text}, nil
	}
}
