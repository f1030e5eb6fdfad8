package musicbot

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/LightQuotient/ytdlbot/internal/player"
)

const (
	colorPlaying = 0x00FF00
	colorIdle    = 0xFF0000
)

// queueText renders the now-playing line followed by the numbered queue.
func queueText(snap player.Snapshot) string {
	var b strings.Builder
	b.WriteString("Now playing: ")
	if snap.NowPlaying != nil {
		b.WriteString(snap.NowPlaying.Title)
	} else {
		b.WriteString("Nothing")
	}

	if len(snap.Queue) == 0 {
		b.WriteString("\nQueue is empty")
		return b.String()
	}

	b.WriteString("\nQueue:")
	for i, track := range snap.Queue {
		fmt.Fprintf(&b, "\n%d. %s", i+1, track.Title)
	}
	return b.String()
}

func queueEmbed(snap player.Snapshot) *discordgo.MessageEmbed {
	color := colorPlaying
	if snap.NowPlaying == nil {
		color = colorIdle
	}
	return &discordgo.MessageEmbed{
		Title:       "Music Queue",
		Description: truncateEmbed(queueText(snap)),
		Color:       color,
	}
}

// Embed descriptions are capped at 4096 characters.
func truncateEmbed(s string) string {
	const limit = 4096
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}
