package alerting

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
)

// SlackNotifier posts to a channel with a bot token.
type SlackNotifier struct {
	client  *slack.Client
	channel string
	logger  zerolog.Logger
}

// NewSlackNotifier builds a Slack notifier. apiURL overrides the Slack
// endpoint and may be empty.
func NewSlackNotifier(token, channel, apiURL string, logger zerolog.Logger) *SlackNotifier {
	var opts []slack.Option
	if apiURL != "" {
		opts = append(opts, slack.OptionAPIURL(strings.TrimRight(apiURL, "/")+"/"))
	}
	return &SlackNotifier{
		client:  slack.New(token, opts...),
		channel: channel,
		logger:  logger.With().Str("component", "alert_slack").Logger(),
	}
}

// Notify posts the rendered message.
func (n *SlackNotifier) Notify(ctx context.Context, note Notification) error {
	channel, ts, err := n.client.PostMessageContext(ctx, n.channel, slack.MsgOptionText(renderMessage(note), false))
	if err != nil {
		return fmt.Errorf("post slack message: %w", err)
	}
	n.logger.Info().Str("kind", string(note.Kind)).Str("channel", channel).Str("ts", ts).Msg("alert sent (slack)")
	return nil
}

var _ Notifier = (*SlackNotifier)(nil)
