package gateway

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/rohan/waypoint/internal/observability"
)

// DiscordNotifier pushes run lifecycle events to a Discord channel.
// Sends go over the REST API, so no gateway websocket is opened.
type DiscordNotifier struct {
	Session   *discordgo.Session
	ChannelID string
}

func NewDiscordNotifier(token, channelID string) (*DiscordNotifier, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	if channelID == "" {
		return nil, fmt.Errorf("discord channel ID is required")
	}
	return &DiscordNotifier{Session: session, ChannelID: channelID}, nil
}

// Notify implements observability.Subscriber.
func (d *DiscordNotifier) Notify(evt observability.Event) error {
	if !ShouldNotify(evt) {
		return nil
	}
	_, err := d.Session.ChannelMessageSend(d.ChannelID, formatEvent(evt))
	return err
}

func (d *DiscordNotifier) Stop() error {
	return d.Session.Close()
}
