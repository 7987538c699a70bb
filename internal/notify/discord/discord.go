// Package discord uploads classified photos to a Discord channel.
package discord

import (
	"bytes"
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/ecotionbuddy/binhub/internal/notify"
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Sink implements notify.Sink for Discord. Only the REST API is used, so no
// gateway connection is opened.
type Sink struct {
	sess      session
	channelID string
}

// Opts holds parameters for creating a Discord Sink.
type Opts struct {
	BotToken  string
	ChannelID string
	// For testing: inject a mock session instead of the real Discord API.
	Session session
}

// New creates a Discord Sink.
func New(opts Opts) (*Sink, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("discord: channel is required")
	}
	sess := opts.Session
	if sess == nil {
		dg, err := discordgo.New("Bot " + opts.BotToken)
		if err != nil {
			return nil, fmt.Errorf("discord: create session: %w", err)
		}
		sess = dg
	}
	return &Sink{sess: sess, channelID: opts.ChannelID}, nil
}

// Name implements notify.Sink.
func (s *Sink) Name() string { return "discord" }

// requestOptions bind the call to ctx and turn off discordgo's own
// rate-limit and REST retries, so each push is one attempt.
func requestOptions(ctx context.Context) []discordgo.RequestOption {
	return []discordgo.RequestOption{
		discordgo.WithContext(ctx),
		discordgo.WithRetryOnRatelimit(false),
		discordgo.WithRestRetries(0),
	}
}

// Push uploads the photo bytes as an attachment with the caption. A 429 is
// returned like any other failure.
func (s *Sink) Push(ctx context.Context, p notify.Photo) error {
	msg := &discordgo.MessageSend{Content: p.Caption}
	if len(p.Data) > 0 {
		msg.Files = []*discordgo.File{{
			Name:        p.Name,
			ContentType: p.ContentType,
			Reader:      bytes.NewReader(p.Data),
		}}
	}
	if _, err := s.sess.ChannelMessageSendComplex(s.channelID, msg, requestOptions(ctx)...); err != nil {
		return fmt.Errorf("discord: send photo: %w", err)
	}
	return nil
}
