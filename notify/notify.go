// Package notify posts run status messages to a Discord channel,
// splitting long payloads across Discord's per-message limit.
package notify

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/darui3018823/discordgo"
)

// MaxMessageLen is Discord's hard limit for a single message.
const MaxMessageLen = 2000

// Sender is the subset of discordgo.Session the notifier needs.
type Sender interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type Notifier struct {
	sender    Sender
	channelID string
}

func New(sender Sender, channelID string) *Notifier {
	return &Notifier{sender: sender, channelID: channelID}
}

// Post sends message to the channel, chunked to MaxMessageLen.
func (n *Notifier) Post(message string) error {
	for _, chunk := range Chunk(message) {
		if _, err := n.sender.ChannelMessageSend(n.channelID, chunk); err != nil {
			return fmt.Errorf("failed to send message: %w", err)
		}
	}
	return nil
}

// PostWithFile sends message like Post and attaches content as a file
// on the final chunk.
func (n *Notifier) PostWithFile(message, filename string, content []byte) error {
	chunks := Chunk(message)
	if len(chunks) == 0 {
		chunks = []string{""}
	}
	for i, chunk := range chunks {
		if i < len(chunks)-1 {
			if _, err := n.sender.ChannelMessageSend(n.channelID, chunk); err != nil {
				return fmt.Errorf("failed to send message: %w", err)
			}
			continue
		}
		_, err := n.sender.ChannelMessageSendComplex(n.channelID, &discordgo.MessageSend{
			Content: chunk,
			Files: []*discordgo.File{{
				Name:        filename,
				ContentType: "image/png",
				Reader:      bytes.NewReader(content),
			}},
		})
		if err != nil {
			return fmt.Errorf("failed to send attachment: %w", err)
		}
	}
	return nil
}

// Chunk splits text into pieces of at most MaxMessageLen characters.
// Splits happen at line boundaries where possible and never inside a
// ``` code fence: a fence left open at a chunk boundary is closed and
// reopened in the next chunk so log blocks stay formatted.
func Chunk(text string) []string {
	if text == "" {
		return nil
	}
	var (
		chunks  []string
		cur     string
		inFence bool
		reopen  bool // cur holds only a synthetic fence reopen
	)
	limit := func() int {
		if inFence {
			return MaxMessageLen - 4 // room for "\n```"
		}
		return MaxMessageLen
	}
	flush := func() {
		if cur == "" || reopen {
			return
		}
		if inFence {
			chunks = append(chunks, cur+"\n```")
			cur = "```\n"
			reopen = true
		} else {
			chunks = append(chunks, cur)
			cur = ""
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		if line == "" {
			continue
		}
		if len(cur)+len(line) > limit() {
			flush()
		}
		// a single line longer than the limit is split mid-line
		for len(cur)+len(line) > limit() {
			room := limit() - len(cur)
			cur += line[:room]
			reopen = false
			line = line[room:]
			flush()
		}
		cur += line
		reopen = false
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
		}
	}
	if cur != "" && !reopen {
		chunks = append(chunks, cur)
	}
	return chunks
}
