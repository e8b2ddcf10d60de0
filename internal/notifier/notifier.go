// Package notifier dispatches alert events to enabled channels: a chat
// webhook, SMTP email, and a JSON alert log (on unless its directory is
// empty). Every send is
// best-effort — a channel failure is logged and swallowed, never
// propagated back into the scheduler tick that produced the event.
package notifier

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pilot-net/urlcheck/internal/secrets"
	"github.com/pilot-net/urlcheck/pkg/types"
)

// Sender delivers one alert event to a single channel.
type Sender interface {
	Send(ctx context.Context, event types.AlertEvent) error
	Kind() types.ChannelKind
}

// Notifier fans an event out to every enabled, configured channel for its
// kind, plus the JSON alert log when one is configured.
type Notifier struct {
	logger   *slog.Logger
	senders  map[types.ChannelKind]Sender
	alertLog *AlertLog
	cfg      *types.AlertConfig
	cfgMu    sync.RWMutex

	limiter *rate.Limiter
}

// Option configures a Notifier at construction time.
type Option func(*Notifier)

// WithRateLimit caps outbound webhook sends to at most r events per second
// with a burst of b, independent of the state machine's own silence
// windows — this guards the remote endpoint against a storm of distinct
// tasks alerting at once, not against repeat alerts for one task.
func WithRateLimit(r rate.Limit, b int) Option {
	return func(n *Notifier) {
		n.limiter = rate.NewLimiter(r, b)
	}
}

// New builds a Notifier. alertLogDir is where day-rotated alert_<date>.log
// files are written; pass "" to disable the JSON alert log entirely.
func New(cfg *types.AlertConfig, alertLogDir string, credentials secrets.CredentialStore, logger *slog.Logger, opts ...Option) (*Notifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Notifier{
		logger:  logger.With("component", "notifier"),
		senders: make(map[types.ChannelKind]Sender),
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(5), 10),
	}
	for _, opt := range opts {
		opt(n)
	}

	if alertLogDir != "" {
		al, err := NewAlertLog(alertLogDir, cfg.AlertLogRetentionDays, logger)
		if err != nil {
			return nil, err
		}
		n.alertLog = al
	}

	return n, nil
}

// RegisterSender wires a channel's transport sender into the fan-out.
func (n *Notifier) RegisterSender(s Sender) {
	n.senders[s.Kind()] = s
}

// UpdateConfig atomically swaps the alert policy used for channel selection.
func (n *Notifier) UpdateConfig(cfg *types.AlertConfig) {
	n.cfgMu.Lock()
	n.cfg = cfg
	n.cfgMu.Unlock()
}

// Dispatch delivers one alert event to every channel enabled for its kind,
// plus the JSON alert log. Errors from individual channels are logged, not
// returned — spec's failure model treats notifier errors as non-fatal.
func (n *Notifier) Dispatch(ctx context.Context, event types.AlertEvent) {
	n.cfgMu.RLock()
	cfg := n.cfg
	n.cfgMu.RUnlock()

	rule := cfg.RuleFor(event.Kind)

	if n.alertLog != nil {
		if err := n.alertLog.Append(event); err != nil {
			n.logger.Warn("alert log append failed", "task", event.TaskName, "kind", event.Kind, "error", err)
		}
	}

	for _, ch := range rule.Channels {
		sender, ok := n.senders[ch]
		if !ok {
			continue
		}
		if ch == types.ChannelDingding {
			if err := n.limiter.Wait(ctx); err != nil {
				n.logger.Warn("rate limiter wait aborted", "channel", ch, "error", err)
				continue
			}
		}
		if err := sender.Send(ctx, event); err != nil {
			n.logger.Warn("notification send failed",
				"channel", ch, "task", event.TaskName, "kind", event.Kind, "error", err)
		}
	}
}

// Close releases resources held by the alert log and any senders.
func (n *Notifier) Close() error {
	if n.alertLog != nil {
		return n.alertLog.Close()
	}
	return nil
}

// now is overridable in tests via a package variable, matching the
// teacher's habit of threading time.Now through rather than hiding it
// behind an untestable default everywhere.
var now = time.Now
