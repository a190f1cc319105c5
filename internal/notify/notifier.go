// Package notify fans project notices and UI refreshes out to every
// conversation linked to a project.
//
// Delivery is best-effort: targets are called one at a time, a failing
// target is retried when the failure is transient, then logged and skipped.
// The shareable template conversation is never a target.
package notify

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/project-assistant/internal/conversation"
	"github.com/p-blackswan/project-assistant/internal/metrics"
	"github.com/p-blackswan/project-assistant/internal/retry"
)

// StateChangedEvent is the state event name sent by RefreshAllUIs.
const StateChangedEvent = "project_state_changed"

// NoticeSource is the metadata source tag on notice messages.
const NoticeSource = "project_notice"

// LinkSource lists the conversations linked to a project.
type LinkSource interface {
	Links(projectID string) ([]conversation.Link, error)
}

// Report summarizes one fan-out.
type Report struct {
	Targets   []string `json:"targets"`
	Delivered int      `json:"delivered"`
	Failed    int      `json:"failed"`
}

// Notifier implements cross-conversation notices and UI refreshes.
type Notifier struct {
	links       LinkSource
	clients     conversation.ClientFactory
	assistantID string
	retry       retry.Config
	metrics     *metrics.Metrics
	now         func() time.Time
	logger      zerolog.Logger
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithRetry retries each transient per-target failure up to n times.
func WithRetry(n int, delay time.Duration) Option {
	return func(nt *Notifier) { nt.retry = retry.Attempts(n, delay) }
}

// WithMetrics records fan-out outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(nt *Notifier) { nt.metrics = m }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(nt *Notifier) { nt.now = now }
}

// New creates a Notifier.
func New(links LinkSource, clients conversation.ClientFactory, assistantID string, logger zerolog.Logger, opts ...Option) *Notifier {
	n := &Notifier{
		links:       links,
		clients:     clients,
		assistantID: assistantID,
		retry:       retry.Attempts(0, 0),
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger.With().Str("component", "notify.notifier").Logger(),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// SendNotice posts message as a notice to every linked conversation except
// the sender and the shareable template.
func (n *Notifier) SendNotice(ctx context.Context, projectID, senderCID, message string) Report {
	targets := n.targets(projectID, senderCID, "")
	msg := conversation.Message{
		Type:    conversation.MessageTypeNotice,
		Content: message,
		Metadata: map[string]any{
			"project_id": projectID,
			"source":     NoticeSource,
		},
	}
	return n.fanout(ctx, "notice", projectID, targets, func(ctx context.Context, c conversation.RemoteConversation) error {
		return c.SendMessages(ctx, msg)
	})
}

// RefreshAllUIs sends a state-changed event to every linked conversation,
// the current one included, except the shareable template.
func (n *Notifier) RefreshAllUIs(ctx context.Context, projectID, currentCID string) Report {
	targets := n.targets(projectID, "", currentCID)
	ev := conversation.StateEvent{
		Name:      StateChangedEvent,
		Data:      map[string]any{"project_id": projectID},
		Timestamp: n.now(),
	}
	return n.fanout(ctx, "refresh", projectID, targets, func(ctx context.Context, c conversation.RemoteConversation) error {
		return c.SendStateEvent(ctx, ev)
	})
}

// Targets resolves the fan-out targets for a project. exclude is dropped;
// include is added unless it is a template conversation.
func (n *Notifier) Targets(projectID, exclude, include string) []string {
	return n.targets(projectID, exclude, include)
}

func (n *Notifier) targets(projectID, exclude, include string) []string {
	links, err := n.links.Links(projectID)
	if err != nil {
		n.logger.Error().Err(err).Str("project_id", projectID).Msg("failed to resolve linked conversations")
		links = nil
	}

	templates := make(map[string]bool)
	seen := make(map[string]bool)
	var out []string
	for _, l := range links {
		if l.Role == conversation.RoleShareableTemplate {
			templates[l.ConversationID] = true
		}
	}
	add := func(cid string) {
		if cid == "" || cid == exclude || templates[cid] || seen[cid] {
			return
		}
		seen[cid] = true
		out = append(out, cid)
	}
	for _, l := range links {
		add(l.ConversationID)
	}
	add(include)
	sort.Strings(out)
	return out
}

func (n *Notifier) fanout(ctx context.Context, kind, projectID string, targets []string, send func(context.Context, conversation.RemoteConversation) error) Report {
	report := Report{Targets: targets}
	for _, cid := range targets {
		client := n.clients.Client(n.assistantID, cid)

		cfg := n.retry
		cfg.OnRetry = func(attempt int, err error) {
			n.logger.Warn().Err(err).
				Str("project_id", projectID).
				Str("target", cid).
				Int("attempt", attempt).
				Msgf("%s delivery failed, retrying", kind)
		}
		err := retry.Do(ctx, cfg, func(ctx context.Context) error { return send(ctx, client) })
		if err != nil {
			report.Failed++
			n.metrics.RecordFanout(kind, "failed")
			n.logger.Warn().Err(err).
				Str("project_id", projectID).
				Str("target", cid).
				Msgf("%s delivery failed", kind)
			continue
		}
		report.Delivered++
		n.metrics.RecordFanout(kind, "delivered")
		n.logger.Debug().Str("project_id", projectID).Str("target", cid).Msgf("%s delivered", kind)
	}
	return report
}
