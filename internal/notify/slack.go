// Package notify forwards incoming direct messages to a Slack channel, for
// operators who are not watching the mesh console.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/slack-go/slack"

	"github.com/meshlog/meshlog/internal/bus"
	"github.com/meshlog/meshlog/internal/ingest"
)

// poster is the slack.Client surface the notifier needs; narrowed for tests.
type poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackNotifier posts a line to one Slack channel for every dm_received
// event. Delivery is best-effort; a Slack outage never reaches ingest.
type SlackNotifier struct {
	api     poster
	channel string
	events  *bus.Bus
	token   int
	timeout time.Duration
}

// NewSlackNotifier creates a notifier posting to channelID with the given
// bot token and subscribes it to events.
func NewSlackNotifier(token, channelID string, events *bus.Bus) *SlackNotifier {
	return newSlackNotifier(slack.New(token), channelID, events)
}

func newSlackNotifier(api poster, channelID string, events *bus.Bus) *SlackNotifier {
	n := &SlackNotifier{api: api, channel: channelID, events: events, timeout: 10 * time.Second}
	n.token = events.Subscribe(n.handle)
	return n
}

// Close detaches the notifier from the bus.
func (n *SlackNotifier) Close() {
	n.events.Unsubscribe(n.token)
}

func (n *SlackNotifier) handle(evt bus.Event) {
	if evt.Type != bus.EventDMReceived {
		return
	}
	dm, ok := evt.Payload.(ingest.DM)
	if !ok {
		return
	}

	text := dmText(dm)
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	_, _, err := n.api.PostMessageContext(ctx, n.channel, slack.MsgOptionText(text, false))
	if err != nil {
		slog.Warn("failed to post dm notification", "error", err)
	}
}

func dmText(dm ingest.DM) string {
	return fmt.Sprintf("DM from %s (%s): %s", dm.FromName, dm.FromID, dm.Preview)
}
