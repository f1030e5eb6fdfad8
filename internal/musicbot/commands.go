package musicbot

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
)

const songOption = "song"

var commands = []*discordgo.ApplicationCommand{
	{
		Name:        "play",
		Description: "Play a song",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        songOption,
				Description: "URL or search terms of the song to play",
				Required:    true,
			},
		},
	},
	{
		Name:        "skip",
		Description: "Skip the current song",
	},
	{
		Name:        "stop",
		Description: "Stop the music",
	},
	{
		Name:        "queue",
		Description: "Show the queue",
	},
	{
		Name:        "nowplaying",
		Description: "Show the currently playing song",
	},
	{
		Name:        "np",
		Description: "Show the currently playing song",
	},
	{
		Name:        "pause",
		Description: "Pause the current song",
	},
	{
		Name:        "resume",
		Description: "Resume the paused song",
	},
}

// registerCommands replaces the global command set in a single request.
func registerCommands(s *discordgo.Session, appID string) error {
	if _, err := s.ApplicationCommandBulkOverwrite(appID, "", commands); err != nil {
		return fmt.Errorf("cannot overwrite commands: %w", err)
	}
	return nil
}
