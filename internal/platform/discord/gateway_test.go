package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"

	"github.com/koopa0/relay/internal/control"
	"github.com/koopa0/relay/internal/log"
)

func TestParseRunOptions_AllSet(t *testing.T) {
	req := parseRunOptions([]*discordgo.ApplicationCommandInteractionDataOption{
		{Name: "content", Type: discordgo.ApplicationCommandOptionString, Value: "Hi"},
		{Name: "use_history", Type: discordgo.ApplicationCommandOptionBoolean, Value: false},
		// Discord delivers integer option values as JSON numbers.
		{Name: "history_limit", Type: discordgo.ApplicationCommandOptionInteger, Value: float64(5)},
	})

	assert.Equal(t, "Hi", req.Text)
	assert.False(t, req.UseHistory)
	assert.Equal(t, 5, req.HistoryLimit)
}

func TestParseRunOptions_HistoryDefaultsOn(t *testing.T) {
	req := parseRunOptions([]*discordgo.ApplicationCommandInteractionDataOption{
		{Name: "content", Type: discordgo.ApplicationCommandOptionString, Value: "Hi"},
	})

	assert.True(t, req.UseHistory)
	assert.Zero(t, req.HistoryLimit, "absent limit defers to the configured default")
}

func TestInteractionUser_GuildAndDM(t *testing.T) {
	guildUser := &discordgo.User{ID: "u1"}
	guild := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Member: &discordgo.Member{User: guildUser},
	}}
	assert.Same(t, guildUser, interactionUser(guild))

	dmUser := &discordgo.User{ID: "u2"}
	dm := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{User: dmUser}}
	assert.Same(t, dmUser, interactionUser(dm))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Alice", displayName(&discordgo.User{Username: "alice42", GlobalName: "Alice"}))
	assert.Equal(t, "alice42", displayName(&discordgo.User{Username: "alice42"}))
}

func TestStopRegistry(t *testing.T) {
	g := &Gateway{stops: make(map[string]*control.Stop), logger: log.NewNop()}
	stop := control.NewStop("owner-1", func() {}, log.NewNop())

	g.registerStop("stop:123", stop)
	assert.Same(t, stop, g.lookupStop("stop:123"))

	g.unregisterStop("stop:123")
	assert.Nil(t, g.lookupStop("stop:123"))

	// Unregistering twice is harmless; Finish and a late detach may race.
	g.unregisterStop("stop:123")
}
