// Package gemini adapts the Gemini API to the streaming engine's provider
// contract: a prompt in, a lazy chunk sequence out.
package gemini

import (
	"context"
	"fmt"
	"iter"

	"google.golang.org/genai"

	"github.com/koopa0/relay/internal/log"
	"github.com/koopa0/relay/internal/stream"
)

// Client wraps a genai client for one configured model.
type Client struct {
	client *genai.Client
	model  string
	logger log.Logger
}

// New creates a Client against the Gemini API backend.
func New(ctx context.Context, apiKey, model string, logger log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.NewNop()
	}

	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &Client{client: c, model: model, logger: logger}, nil
}

// OpenChat creates a fresh chat for one session. Each session gets its own
// chat so concurrent sessions never share provider state.
func (c *Client) OpenChat(ctx context.Context) (stream.Streamer, error) {
	chat, err := c.client.Chats.Create(ctx, c.model, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}

	c.logger.Debug("opened provider chat", "model", c.model)
	return &chatStreamer{chat: chat}, nil
}

// chatStreamer bridges genai's response stream to the engine's chunk
// sequence. Responses without text become empty chunks, which the engine
// skips.
type chatStreamer struct {
	chat *genai.Chat
}

func (s *chatStreamer) Stream(ctx context.Context, prompt string) iter.Seq2[stream.Chunk, error] {
	return func(yield func(stream.Chunk, error) bool) {
		for resp, err := range s.chat.SendMessageStream(ctx, genai.Part{Text: prompt}) {
			if err != nil {
				yield(stream.Chunk{}, err)
				return
			}
			if !yield(stream.Chunk{Text: resp.Text()}, nil) {
				return
			}
		}
	}
}
