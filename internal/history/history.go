// Package history assembles recent channel conversation into a bounded
// prompt context.
//
// The builder reads messages oldest-first, tags each line with the author's
// role relative to the current request, drops empty lines, truncates
// overlong lines, and finally truncates the joined result from the front so
// the most recent conversation always survives the character budget.
package history

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/koopa0/relay/internal/log"
)

// ErrFetch indicates the underlying platform history read failed. Callers
// decide whether to degrade to an empty context; this package only reports.
var ErrFetch = errors.New("history fetch failed")

// ellipsis is appended to lines cut at the per-line cap.
const ellipsis = " …"

// header precedes a non-empty context. An empty context gets no header.
const header = "You are an AI assistant in a Discord channel. Use the recent conversation " +
	"below to maintain context. Respond helpfully in the same language as the user.\n\n" +
	"[Recent Conversation]\n"

// Role tags the author of a history line relative to the current request.
type Role string

const (
	// RoleAssistant marks lines the bot itself wrote.
	RoleAssistant Role = "assistant"

	// RoleUser marks lines written by the requesting user.
	RoleUser Role = "user"

	// RoleOther marks lines from any other channel participant.
	RoleOther Role = "other"
)

// Message is one raw channel message as provided by the platform.
type Message struct {
	AuthorID    string
	DisplayName string
	Content     string
}

// Source yields up to limit recent channel messages, oldest first.
// Implemented by the platform adapter.
type Source interface {
	Recent(ctx context.Context, limit int) ([]Message, error)
}

// Builder turns channel history into a single bounded context string.
type Builder struct {
	assistantID string
	lineLimit   int
	maxChars    int
	logger      log.Logger
}

// NewBuilder creates a Builder.
//
// assistantID is the bot's own user id, used to tag its past messages.
// lineLimit caps each rendered line's text in characters; maxChars caps the
// whole joined context, dropping the oldest conversation first.
func NewBuilder(assistantID string, lineLimit, maxChars int, logger log.Logger) *Builder {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Builder{
		assistantID: assistantID,
		lineLimit:   lineLimit,
		maxChars:    maxChars,
		logger:      logger,
	}
}

// Classify derives the role for an author id. The assistant identity is
// checked before the requester, so a request issued by the bot itself tags
// its lines "assistant". This tie-break is deliberate.
func (b *Builder) Classify(authorID, requesterID string) Role {
	switch authorID {
	case b.assistantID:
		return RoleAssistant
	case requesterID:
		return RoleUser
	default:
		return RoleOther
	}
}

// Build fetches up to limit messages from src and renders them into a
// context string. It returns "" (and no header) when no non-empty lines
// were found. A failed fetch is reported wrapped in ErrFetch.
func (b *Builder) Build(ctx context.Context, src Source, requesterID string, limit int) (string, error) {
	messages, err := src.Recent(ctx, limit)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetch, err)
	}

	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		text := strings.TrimSpace(m.Content)
		if text == "" {
			// Embed- or attachment-only messages carry no text.
			continue
		}

		text = truncate(text, b.lineLimit)
		role := b.Classify(m.AuthorID, requesterID)
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", role, m.DisplayName, text))
	}

	combined := strings.Join(lines, "\n")
	combined = keepTail(combined, b.maxChars)

	if combined == "" {
		return "", nil
	}

	b.logger.Debug("assembled context",
		"lines", len(lines),
		"chars", len(combined))
	return header + combined, nil
}

// truncate cuts s to max characters, appending the ellipsis marker when cut.
// Operates on runes so multi-byte characters are never split.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + ellipsis
}

// keepTail keeps the trailing max characters of s, discarding the oldest
// conversation first. The cut is positional, not line-aware: a line longer
// than the budget loses its head, role tag included.
func keepTail(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[len(runes)-max:])
}

// Header returns the fixed instructional preamble used for non-empty
// contexts. Exposed for the request assembler and its tests.
func Header() string {
	return header
}
