// Package discord connects the bot to the Discord gateway: the /run slash
// command, channel-history reads, progressive edits of the response
// message, and the stop button.
package discord

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/koopa0/relay/internal/bot"
	"github.com/koopa0/relay/internal/control"
	"github.com/koopa0/relay/internal/log"
)

const (
	commandName = "run"

	// stopPrefix namespaces the stop button's component custom id; the
	// suffix is the interaction id the button belongs to.
	stopPrefix = "stop:"

	runningNotice = "Running…"
	busyNotice    = "You already have a response in progress."
)

// Gateway owns the Discord session and routes interactions to the bot.
type Gateway struct {
	session *discordgo.Session
	bot     *bot.Bot
	logger  log.Logger

	// runCtx is the lifetime of the gateway connection; sessions descend
	// from it so shutdown cancels every in-flight generation.
	runCtx context.Context

	mu    sync.Mutex
	stops map[string]*control.Stop
}

// NewGateway creates a Gateway for the given bot token. Message-content
// intent is required to read channel history for context. Bind must be
// called before Run.
func NewGateway(token string, logger log.Logger) (*Gateway, error) {
	if logger == nil {
		logger = log.NewNop()
	}

	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentMessageContent

	g := &Gateway{
		session: s,
		logger:  logger,
		stops:   make(map[string]*control.Stop),
	}
	s.AddHandler(g.onReady)
	s.AddHandler(g.onInteraction)
	return g, nil
}

// Identity resolves the bot's own user id over REST, before the gateway
// connection opens. The history builder needs it to tag the bot's past
// messages as assistant lines.
func (g *Gateway) Identity() (string, error) {
	u, err := g.session.User("@me")
	if err != nil {
		return "", fmt.Errorf("failed to resolve bot identity: %w", err)
	}
	return u.ID, nil
}

// Bind wires the request handler. Interactions arriving before Bind (none
// can: the connection opens in Run) would be dropped.
func (g *Gateway) Bind(b *bot.Bot) {
	g.bot = b
}

// Run opens the gateway connection and blocks until ctx is cancelled, then
// closes the connection and waits for in-flight sessions to terminate.
func (g *Gateway) Run(ctx context.Context) error {
	if g.bot == nil {
		return fmt.Errorf("gateway has no bot bound")
	}
	g.runCtx = ctx
	if err := g.session.Open(); err != nil {
		return fmt.Errorf("failed to open gateway: %w", err)
	}

	<-ctx.Done()

	g.bot.Wait()
	if err := g.session.Close(); err != nil {
		return fmt.Errorf("failed to close gateway: %w", err)
	}
	return nil
}

// onReady registers the slash command and sets the presence hint.
func (g *Gateway) onReady(s *discordgo.Session, r *discordgo.Ready) {
	g.logger.Info("gateway ready", "user", r.User.Username)

	if err := s.UpdateGameStatus(0, "/"+commandName); err != nil {
		g.logger.Warn("failed to set presence", "error", err)
	}

	minLimit, maxLimit := float64(1), float64(100)
	_, err := s.ApplicationCommandCreate(r.User.ID, "", &discordgo.ApplicationCommand{
		Name:        commandName,
		Description: "Stream a model response (keeps context from recent channel messages)",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "content",
				Description: "What to ask",
				Required:    true,
			},
			{
				Type:        discordgo.ApplicationCommandOptionBoolean,
				Name:        "use_history",
				Description: "Seed the prompt with recent channel conversation (default: true)",
			},
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "history_limit",
				Description: "How many recent messages to load",
				MinValue:    &minLimit,
				MaxValue:    maxLimit,
			},
		},
	})
	if err != nil {
		g.logger.Error("failed to register command", "command", commandName, "error", err)
	}
}

// onInteraction routes slash commands and button presses.
func (g *Gateway) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		if i.ApplicationCommandData().Name == commandName {
			g.handleRun(s, i)
		}
	case discordgo.InteractionMessageComponent:
		g.handleComponent(s, i)
	}
}

// handleRun admits one /run invocation.
func (g *Gateway) handleRun(s *discordgo.Session, i *discordgo.InteractionCreate) {
	user := interactionUser(i)
	if user == nil {
		g.logger.Warn("interaction without user", "interaction_id", i.ID)
		return
	}

	req := parseRunOptions(i.ApplicationCommandData().Options)
	req.OwnerID = user.ID

	// Claim the visible message first; the session edits it in place.
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: runningNotice},
	})
	if err != nil {
		g.logger.Error("failed to respond to command", "error", err)
		return
	}

	surface := newSurface(g, s, i.Interaction)
	if err := g.bot.Start(g.runCtx, req, surface); err != nil {
		// Busy is the only admission failure; tell the owner and leave
		// their running session untouched.
		notice := busyNotice
		if _, eerr := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
			Content: &notice,
		}); eerr != nil {
			g.logger.Warn("failed to publish busy notice", "error", eerr)
		}
	}
}

// handleComponent routes a stop-button press to its bound control. The
// interaction is always acknowledged, owner or not, so Discord never shows
// a stale "thinking" indicator.
func (g *Gateway) handleComponent(s *discordgo.Session, i *discordgo.InteractionCreate) {
	customID := i.MessageComponentData().CustomID
	if !strings.HasPrefix(customID, stopPrefix) {
		return
	}

	if user := interactionUser(i); user != nil {
		if stop := g.lookupStop(customID); stop != nil {
			stop.Activate(user.ID)
		}
	}

	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	})
	if err != nil {
		g.logger.Warn("failed to acknowledge button press", "error", err)
	}
}

func (g *Gateway) registerStop(customID string, stop *control.Stop) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stops[customID] = stop
}

func (g *Gateway) unregisterStop(customID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.stops, customID)
}

func (g *Gateway) lookupStop(customID string) *control.Stop {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stops[customID]
}

// interactionUser returns the acting user for guild and DM interactions.
func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

// parseRunOptions extracts the /run options. use_history defaults to true
// when omitted, matching the command's documented behavior.
func parseRunOptions(options []*discordgo.ApplicationCommandInteractionDataOption) bot.Request {
	req := bot.Request{UseHistory: true}
	for _, opt := range options {
		switch opt.Name {
		case "content":
			req.Text = opt.StringValue()
		case "use_history":
			req.UseHistory = opt.BoolValue()
		case "history_limit":
			req.HistoryLimit = int(opt.IntValue())
		}
	}
	return req
}
