// Package slackhost mirrors assistant messages of Slack-bound conversations
// into their Slack channels. A conversation is bound when its metadata
// carries a "slack_channel" entry.
package slackhost

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/p-blackswan/project-assistant/internal/conversation"
	perrors "github.com/p-blackswan/project-assistant/internal/errors"
)

// Metadata keys that bind a conversation to Slack.
const (
	MetadataChannel  = "slack_channel"
	MetadataThreadTS = "slack_thread_ts"
)

// SlackAPI is the minimal Slack API surface needed by the mirror.
type SlackAPI interface {
	PostMessage(channelID string, options ...slack.MsgOption) (string, string, error)
	AuthTest() (*slack.AuthTestResponse, error)
}

// NewAPI creates a Slack Web API client.
func NewAPI(botToken string) *slack.Client {
	return slack.New(botToken)
}

type binding struct {
	channel  string
	threadTS string
}

// Mirror wraps a conversation host. Messages sent through its clients are
// delivered to the host first and then posted to the bound Slack channel.
// Slack failures are logged and never fail the host delivery.
type Mirror struct {
	conversation.Host
	api      SlackAPI
	bindings sync.Map // conversationID → binding
	logger   zerolog.Logger
}

// New creates a Mirror over host.
func New(host conversation.Host, api SlackAPI, logger zerolog.Logger) *Mirror {
	return &Mirror{
		Host:   host,
		api:    api,
		logger: logger.With().Str("component", "slackhost.mirror").Logger(),
	}
}

// Client implements conversation.ClientFactory.
func (m *Mirror) Client(assistantID, conversationID string) conversation.RemoteConversation {
	return &mirroredClient{RemoteConversation: m.Host.Client(assistantID, conversationID), mirror: m}
}

// Check verifies the bot token.
func (m *Mirror) Check(ctx context.Context) error {
	if _, err := m.api.AuthTest(); err != nil {
		return perrors.NewRemoteError("slack", "auth_test", 0, err)
	}
	return nil
}

func (m *Mirror) binding(ctx context.Context, rc conversation.RemoteConversation) (binding, bool) {
	if b, ok := m.bindings.Load(rc.ConversationID()); ok {
		return b.(binding), true
	}
	info, err := rc.GetConversation(ctx)
	if err != nil {
		return binding{}, false
	}
	channel, _ := info.Metadata[MetadataChannel].(string)
	if channel == "" {
		return binding{}, false
	}
	b := binding{channel: channel}
	b.threadTS, _ = info.Metadata[MetadataThreadTS].(string)
	m.bindings.Store(rc.ConversationID(), b)
	return b, true
}

func (m *Mirror) post(b binding, msg conversation.Message) error {
	text := formatForSlack(msg.Content)
	if text == "" {
		return nil
	}
	if msg.Type == conversation.MessageTypeNotice {
		text = ":bell: " + text
	}
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if b.threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(b.threadTS))
	}
	_, _, err := m.api.PostMessage(b.channel, opts...)
	return err
}

type mirroredClient struct {
	conversation.RemoteConversation
	mirror *Mirror
}

func (c *mirroredClient) SendMessages(ctx context.Context, msgs ...conversation.Message) error {
	if err := c.RemoteConversation.SendMessages(ctx, msgs...); err != nil {
		return err
	}
	b, ok := c.mirror.binding(ctx, c.RemoteConversation)
	if !ok {
		return nil
	}
	for _, msg := range msgs {
		if err := c.mirror.post(b, msg); err != nil {
			c.mirror.logger.Warn().Err(err).
				Str("conversation_id", c.ConversationID()).
				Str("channel", b.channel).
				Msg("slack mirror failed")
		}
	}
	return nil
}
