// Package notify delivers user-facing notifications. The Discord sink
// stands in for the desktop toast notifications of the original tray app.
package notify

import (
	"fmt"
	"log"

	"github.com/bwmarrin/discordgo"
)

// LogNotifier writes notifications to the process log. Used when no
// Discord sink is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(title, body, targetURL string) {
	log.Printf("NOTIFY: %s — %s (%s)", title, body, targetURL)
}

// DiscordNotifier posts notifications as embeds to a single channel.
type DiscordNotifier struct {
	session   *discordgo.Session
	channelID string
}

// NewDiscordNotifier opens a Discord session for the given bot token.
func NewDiscordNotifier(token, channelID string) (*DiscordNotifier, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("open discord session: %w", err)
	}
	return &DiscordNotifier{session: session, channelID: channelID}, nil
}

func (n *DiscordNotifier) Notify(title, body, targetURL string) {
	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: body,
		URL:         targetURL,
		Color:       0x8B5CF6,
	}
	_, err := n.session.ChannelMessageSendEmbed(n.channelID, embed)
	if err != nil {
		log.Printf("Error sending notification to Discord: %v", err)
	}
}

func (n *DiscordNotifier) Close() {
	if err := n.session.Close(); err != nil {
		log.Printf("Error closing discord session: %v", err)
	}
}
