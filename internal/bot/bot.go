// Package bot orchestrates one streaming generation per request: registry
// admission, context assembly, stop-control attachment, and the streaming
// run itself.
//
// The platform and the model provider stay behind small interfaces; this
// package owns only the lifecycle.
package bot

import (
	"context"
	"strings"
	"sync"

	"github.com/koopa0/relay/internal/control"
	"github.com/koopa0/relay/internal/history"
	"github.com/koopa0/relay/internal/log"
	"github.com/koopa0/relay/internal/session"
	"github.com/koopa0/relay/internal/stream"
)

// requestSeparator joins the assembled context with the raw request text.
const requestSeparator = "\n\n[User Request]\n"

// Request is one user invocation.
type Request struct {
	// OwnerID is the requesting user's opaque identifier.
	OwnerID string

	// Text is the raw request text, passed to the model verbatim.
	Text string

	// UseHistory opts into seeding the prompt with recent channel
	// conversation.
	UseHistory bool

	// HistoryLimit overrides the configured message count when positive.
	HistoryLimit int
}

// Surface bundles the per-request platform resources: the channel history,
// the editable output message, and the slot for the stop control.
type Surface interface {
	history.Source
	stream.Editor

	// AttachStop makes the stop control visible on the output message.
	// A failed attach leaves the generation running without a button.
	AttachStop(ctx context.Context, stop *control.Stop) error
}

// ChatOpener opens a fresh provider chat for one session.
type ChatOpener interface {
	OpenChat(ctx context.Context) (stream.Streamer, error)
}

// Bot accepts requests and runs each accepted one on its own worker
// goroutine. At most one session is in flight per owner; a second request
// is rejected with session.ErrBusy.
type Bot struct {
	registry     *session.Registry
	engine       *stream.Engine
	builder      *history.Builder
	provider     ChatOpener
	historyLimit int
	logger       log.Logger

	wg sync.WaitGroup
}

// New creates a Bot. historyLimit is the default message count for
// requests that opt into history without their own limit.
func New(registry *session.Registry, engine *stream.Engine, builder *history.Builder, provider ChatOpener, historyLimit int, logger log.Logger) *Bot {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Bot{
		registry:     registry,
		engine:       engine,
		builder:      builder,
		provider:     provider,
		historyLimit: historyLimit,
		logger:       logger,
	}
}

// Start admits the request and, if accepted, launches its session worker.
//
// Admission is synchronous and non-blocking: only the registry is touched.
// Returns session.ErrBusy when the owner already has an active session, in
// which case nothing was mutated. A nil return means accepted; progress is
// delivered through the surface.
func (b *Bot) Start(ctx context.Context, req Request, surface Surface) error {
	sess, err := b.registry.TryAcquire(ctx, req.OwnerID)
	if err != nil {
		return err
	}

	b.wg.Add(1)
	go b.run(sess, req, surface)
	return nil
}

// Wait blocks until all in-flight session workers have terminated. Used on
// shutdown after the root context is cancelled.
func (b *Bot) Wait() {
	b.wg.Wait()
}

// run executes one session to a terminal state. The registry entry is
// removed exactly once on every exit path, panics included, so a crashed
// session can never permanently block its owner.
func (b *Bot) run(sess *session.Session, req Request, surface Surface) {
	defer b.wg.Done()
	defer b.registry.Release(req.OwnerID)
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("session worker panic",
				"session_id", sess.ID, "owner_id", req.OwnerID, "panic", r)
		}
	}()

	ctx := sess.Context()
	logger := b.logger.With("session_id", sess.ID, "owner_id", req.OwnerID)

	prompt := b.assemblePrompt(ctx, req, surface, logger)

	stop := control.NewStop(req.OwnerID, sess.Cancel, logger)
	if err := surface.AttachStop(ctx, stop); err != nil {
		// The generation still runs; the owner just has no button.
		logger.Warn("failed to attach stop control", "error", err)
	}

	streamer, err := b.provider.OpenChat(ctx)
	if err != nil {
		logger.Error("failed to open provider chat", "error", err)
		if ferr := surface.Finish(context.WithoutCancel(ctx), "⚠️ Generation failed"); ferr != nil {
			logger.Warn("failed to publish failure notice", "error", ferr)
		}
		return
	}

	res, err := b.engine.Run(ctx, streamer, surface, prompt)
	if err != nil {
		logger.Error("session ended with failure", "state", res.State, "error", err)
		return
	}
	logger.Info("session ended", "state", res.State, "chars", len(res.Text))
}

// assemblePrompt builds the final prompt. A failed history fetch degrades
// to the bare request text; only the failure is logged, the user sees a
// normal response.
func (b *Bot) assemblePrompt(ctx context.Context, req Request, surface Surface, logger log.Logger) string {
	if !req.UseHistory {
		return req.Text
	}

	limit := req.HistoryLimit
	if limit <= 0 {
		limit = b.historyLimit
	}

	contextStr, err := b.builder.Build(ctx, surface, req.OwnerID, limit)
	if err != nil {
		logger.Warn("history unavailable, continuing without context", "error", err)
		return req.Text
	}
	if contextStr == "" {
		return req.Text
	}

	var sb strings.Builder
	sb.WriteString(contextStr)
	sb.WriteString(requestSeparator)
	sb.WriteString(req.Text)
	return sb.String()
}

// Active reports whether the owner currently has a session in flight.
func (b *Bot) Active(ownerID string) bool {
	return b.registry.Active(ownerID)
}
