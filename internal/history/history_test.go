package history

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/koopa0/relay/internal/log"
)

const (
	assistantID = "bot-1"
	requesterID = "user-1"
)

// mockSource implements Source for testing.
type mockSource struct {
	messages []Message
	err      error

	recentCalls int
	lastLimit   int
}

func (m *mockSource) Recent(_ context.Context, limit int) ([]Message, error) {
	m.recentCalls++
	m.lastLimit = limit
	if m.err != nil {
		return nil, m.err
	}
	return m.messages, nil
}

func newBuilder(lineLimit, maxChars int) *Builder {
	return NewBuilder(assistantID, lineLimit, maxChars, log.NewNop())
}

func TestBuild_DropsEmptyLines(t *testing.T) {
	src := &mockSource{messages: []Message{
		{AuthorID: requesterID, DisplayName: "alice", Content: ""},
		{AuthorID: requesterID, DisplayName: "alice", Content: "hello"},
		{AuthorID: requesterID, DisplayName: "alice", Content: "  "},
	}}

	got, err := newBuilder(1000, 6000).Build(context.Background(), src, requesterID, 20)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	body := strings.TrimPrefix(got, Header())
	if body == got {
		t.Fatalf("non-empty context should carry the header, got %q", got)
	}
	if body != "[user] alice: hello" {
		t.Errorf("body = %q, want single hello line", body)
	}
	if strings.Contains(got, "\n\n[user]") || strings.HasSuffix(got, "\n") {
		t.Errorf("empty segments leaked into output: %q", got)
	}
}

func TestBuild_RoleClassification(t *testing.T) {
	src := &mockSource{messages: []Message{
		{AuthorID: assistantID, DisplayName: "relay", Content: "earlier answer"},
		{AuthorID: requesterID, DisplayName: "alice", Content: "earlier question"},
		{AuthorID: "user-2", DisplayName: "bob", Content: "bystander"},
	}}

	got, err := newBuilder(1000, 6000).Build(context.Background(), src, requesterID, 20)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	want := Header() +
		"[assistant] relay: earlier answer\n" +
		"[user] alice: earlier question\n" +
		"[other] bob: bystander"
	if got != want {
		t.Errorf("Build() = %q, want %q", got, want)
	}
}

func TestClassify_AssistantBeforeRequester(t *testing.T) {
	// When the requester is the bot itself, assistant wins the tie-break.
	b := newBuilder(1000, 6000)
	if role := b.Classify(assistantID, assistantID); role != RoleAssistant {
		t.Errorf("Classify(bot, bot) = %q, want %q", role, RoleAssistant)
	}
}

func TestBuild_PerLineTruncation(t *testing.T) {
	src := &mockSource{messages: []Message{
		{AuthorID: requesterID, DisplayName: "alice", Content: strings.Repeat("x", 25)},
	}}

	got, err := newBuilder(10, 6000).Build(context.Background(), src, requesterID, 20)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	wantText := strings.Repeat("x", 10) + " …"
	if !strings.HasSuffix(got, "alice: "+wantText) {
		t.Errorf("truncated text = %q, want suffix %q", got, wantText)
	}
}

func TestBuild_ShortLineUntouched(t *testing.T) {
	src := &mockSource{messages: []Message{
		{AuthorID: requesterID, DisplayName: "alice", Content: "short"},
	}}

	got, err := newBuilder(10, 6000).Build(context.Background(), src, requesterID, 20)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if !strings.HasSuffix(got, "alice: short") {
		t.Errorf("short line should not gain a marker: %q", got)
	}
}

func TestBuild_GlobalTruncationKeepsTail(t *testing.T) {
	// One 200-character line, budget 50: the result body is exactly the
	// last 50 characters, even though that cuts mid-line.
	content := strings.Repeat("abcd", 50)
	src := &mockSource{messages: []Message{
		{AuthorID: requesterID, DisplayName: "alice", Content: content},
	}}

	b := newBuilder(1000, 50)
	got, err := b.Build(context.Background(), src, requesterID, 20)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	full := "[user] alice: " + content
	want := Header() + full[len(full)-50:]
	if got != want {
		t.Errorf("Build() = %q, want %q", got, want)
	}
}

func TestBuild_EmptyHistory(t *testing.T) {
	src := &mockSource{}

	got, err := newBuilder(1000, 6000).Build(context.Background(), src, requesterID, 20)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if got != "" {
		t.Errorf("empty history should yield empty context, got %q", got)
	}
}

func TestBuild_FetchFailure(t *testing.T) {
	src := &mockSource{err: errors.New("gateway timeout")}

	got, err := newBuilder(1000, 6000).Build(context.Background(), src, requesterID, 20)
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("Build() error = %v, want ErrFetch", err)
	}
	if got != "" {
		t.Errorf("failed build should return empty string, got %q", got)
	}
}

func TestBuild_PassesLimitThrough(t *testing.T) {
	src := &mockSource{}
	if _, err := newBuilder(1000, 6000).Build(context.Background(), src, requesterID, 7); err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if src.lastLimit != 7 {
		t.Errorf("limit passed to source = %d, want 7", src.lastLimit)
	}
	if src.recentCalls != 1 {
		t.Errorf("Recent called %d times, want 1", src.recentCalls)
	}
}

func TestTruncate_MultiByte(t *testing.T) {
	// Rune-based cut must not split a multi-byte character.
	got := truncate(strings.Repeat("가", 12), 10)
	want := strings.Repeat("가", 10) + " …"
	if got != want {
		t.Errorf("truncate() = %q, want %q", got, want)
	}
}
