// Package slack posts classified photos to a Slack channel.
package slack

import (
	"context"
	"fmt"
	"strings"

	"github.com/ecotionbuddy/binhub/internal/notify"
	slackapi "github.com/slack-go/slack"
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Sink implements notify.Sink for Slack.
type Sink struct {
	client  slackClient
	channel string
}

// Opts holds parameters for creating a Slack Sink.
type Opts struct {
	BotToken string // xoxb-... Slack bot token
	Channel  string
	// For testing: inject a mock client instead of the real Slack API.
	Client slackClient
}

// New creates a Slack Sink.
func New(opts Opts) (*Sink, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.Channel == "" {
		return nil, fmt.Errorf("slack: channel is required")
	}
	client := opts.Client
	if client == nil {
		client = slackapi.New(opts.BotToken)
	}
	return &Sink{client: client, channel: opts.Channel}, nil
}

// Name implements notify.Sink.
func (s *Sink) Name() string { return "slack" }

// Push posts the caption, with an image block when the photo has a public
// URL Slack can fetch. It makes a single attempt bounded by ctx; a
// rate-limit error is returned like any other failure.
func (s *Sink) Push(ctx context.Context, p notify.Photo) error {
	opts := []slackapi.MsgOption{slackapi.MsgOptionText(p.Caption, false)}
	if isPublicURL(p.URL) {
		opts = append(opts, slackapi.MsgOptionBlocks(
			slackapi.NewSectionBlock(slackapi.NewTextBlockObject(slackapi.MarkdownType, p.Caption, false, false), nil, nil),
			slackapi.NewImageBlock(p.URL, p.Caption, "", nil),
		))
	}

	if _, _, err := s.client.PostMessageContext(ctx, s.channel, opts...); err != nil {
		return fmt.Errorf("slack: post photo: %w", err)
	}
	return nil
}

func isPublicURL(u string) bool {
	return strings.HasPrefix(u, "https://") || strings.HasPrefix(u, "http://")
}
