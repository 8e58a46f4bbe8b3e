package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"github.com/koopa0/relay/internal/control"
	"github.com/koopa0/relay/internal/history"
)

// editInterval is the minimum spacing between mid-stream edits of one
// response message. Discord throttles webhook edits well below the flush
// cadence of a fast model, so surplus edits are skipped; the next flush
// carries the fuller text anyway.
const editInterval = time.Second

// surface is the per-invocation platform bundle handed to the bot: the
// channel history source, the editable response message, and the stop
// button slot.
type surface struct {
	gw          *Gateway
	session     *discordgo.Session
	interaction *discordgo.Interaction
	channelID   string
	limiter     *rate.Limiter
	stopID      string
}

func newSurface(gw *Gateway, s *discordgo.Session, i *discordgo.Interaction) *surface {
	return &surface{
		gw:          gw,
		session:     s,
		interaction: i,
		channelID:   i.ChannelID,
		limiter:     rate.NewLimiter(rate.Every(editInterval), 1),
		stopID:      stopPrefix + i.ID,
	}
}

// Recent returns up to limit channel messages, oldest first. Discord hands
// them back newest-first, so the page is reversed.
func (f *surface) Recent(_ context.Context, limit int) ([]history.Message, error) {
	msgs, err := f.session.ChannelMessages(f.channelID, limit, "", "", "")
	if err != nil {
		return nil, fmt.Errorf("failed to read channel history: %w", err)
	}

	out := make([]history.Message, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Author == nil {
			continue
		}
		out = append(out, history.Message{
			AuthorID:    m.Author.ID,
			DisplayName: displayName(m.Author),
			Content:     m.Content,
		})
	}
	return out, nil
}

// Edit replaces the response content mid-stream. Edits beyond the rate
// ceiling are dropped; a skipped edit is superseded by the next flush.
func (f *surface) Edit(_ context.Context, content string) error {
	if !f.limiter.Allow() {
		return nil
	}

	_, err := f.session.InteractionResponseEdit(f.interaction, &discordgo.WebhookEdit{
		Content: &content,
	})
	if err != nil {
		return fmt.Errorf("failed to edit response: %w", err)
	}
	return nil
}

// Finish publishes the terminal content and removes the stop button. Not
// rate-limited: the terminal edit always goes out.
func (f *surface) Finish(_ context.Context, content string) error {
	f.gw.unregisterStop(f.stopID)

	empty := []discordgo.MessageComponent{}
	_, err := f.session.InteractionResponseEdit(f.interaction, &discordgo.WebhookEdit{
		Content:    &content,
		Components: &empty,
	})
	if err != nil {
		return fmt.Errorf("failed to publish final response: %w", err)
	}
	return nil
}

// AttachStop adds the stop button to the response message and registers it
// for component routing.
func (f *surface) AttachStop(_ context.Context, stop *control.Stop) error {
	f.gw.registerStop(f.stopID, stop)

	notice := runningNotice
	components := []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Stop",
					Style:    discordgo.DangerButton,
					CustomID: f.stopID,
				},
			},
		},
	}

	_, err := f.session.InteractionResponseEdit(f.interaction, &discordgo.WebhookEdit{
		Content:    &notice,
		Components: &components,
	})
	if err != nil {
		f.gw.unregisterStop(f.stopID)
		return fmt.Errorf("failed to attach stop control: %w", err)
	}
	return nil
}

// displayName prefers the user's global display name over the login name.
func displayName(u *discordgo.User) string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}
