// Package report periodically reads every task's persisted state and
// classifies it into normal / currently-alerting / notified-alerting /
// no-data / stale / unreadable buckets, then emits one aggregated summary.
// It is strictly read-only with respect to the state store.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/pilot-net/urlcheck/pkg/types"
)

// Classification is one task's bucket membership. A task can belong to
// more than one bucket at once by design (e.g. currently-alerting and
// stale), except no-data and unreadable which preclude every other bucket.
type Classification struct {
	TaskName           string
	Normal             bool
	CurrentlyAlerting  []types.AlertKind
	NotifiedAlerting   []types.AlertKind
	NoData             bool
	Stale              bool
	Unreadable         bool
}

// Loader abstracts the state store so report can be tested without file I/O.
type Loader interface {
	ListTaskNames() ([]string, error)
	Load(taskName string) (state *types.TaskState, existed bool, err error)
}

// Sender delivers the aggregated report text to one channel.
type Sender interface {
	SendReport(ctx context.Context, subject, body string) error
}

// SummaryCache persists the last generated summary across process restarts,
// readable through LastSummary. GET /report classifies live and does not
// read it. Satisfied by *cache.Cache; optional.
type SummaryCache interface {
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
}

const lastSummaryCacheKey = "report:last-summary"

// Generator runs the classification on its own ticker.
type Generator struct {
	loader       Loader
	expectByName map[string]types.TaskExpectation
	senders      []Sender
	cache        SummaryCache
	logger       *slog.Logger
	interval     time.Duration
}

// New builds a Generator. expectations supplies each task's interval, used
// to compute the staleness threshold (max(interval*3, 180s)).
func New(loader Loader, expectations []types.TaskExpectation, interval time.Duration, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	byName := make(map[string]types.TaskExpectation, len(expectations))
	for _, e := range expectations {
		byName[e.Name] = e
	}
	if interval <= 0 {
		interval = 2 * time.Hour
	}
	return &Generator{
		loader:       loader,
		expectByName: byName,
		logger:       logger.With("component", "report"),
		interval:     interval,
	}
}

// RegisterSender adds a destination for the aggregated report text.
func (g *Generator) RegisterSender(s Sender) {
	g.senders = append(g.senders, s)
}

// SetCache enables persisting the last summary across restarts. Optional.
func (g *Generator) SetCache(c SummaryCache) {
	g.cache = c
}

// LastSummary returns the most recently cached summary, if a cache is set
// and holds one.
func (g *Generator) LastSummary(ctx context.Context) (string, bool) {
	if g.cache == nil {
		return "", false
	}
	data, err := g.cache.Get(ctx, lastSummaryCacheKey)
	if err != nil || data == nil {
		return "", false
	}
	return string(data), true
}

// Run blocks, emitting a report every interval until ctx is cancelled.
func (g *Generator) Run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.runOnce(ctx, time.Now())
		}
	}
}

func (g *Generator) runOnce(ctx context.Context, now time.Time) {
	classifications, err := g.Classify(now)
	if err != nil {
		g.logger.Error("report classification failed", "error", err)
		return
	}
	body := FormatSummary(classifications)
	if g.cache != nil {
		if err := g.cache.Set(ctx, lastSummaryCacheKey, []byte(body), 2*g.interval); err != nil {
			g.logger.Warn("report cache write failed", "error", err)
		}
	}
	for _, s := range g.senders {
		if err := s.SendReport(ctx, "url-check periodic report", body); err != nil {
			g.logger.Warn("report send failed", "error", err)
		}
	}
}

// Classify reads every task's state and buckets it. Exported so callers
// (tests, the GET /report endpoint) can request an on-demand report
// without waiting for the ticker.
func (g *Generator) Classify(now time.Time) ([]Classification, error) {
	names, err := g.loader.ListTaskNames()
	if err != nil {
		return nil, fmt.Errorf("listing task names: %w", err)
	}

	// Tasks configured but never probed yet have no state file at all;
	// include them as no-data rather than silently omitting them.
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		seen[n] = true
	}
	for name := range g.expectByName {
		if !seen[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	results := make([]Classification, 0, len(names))
	for _, name := range names {
		results = append(results, g.classifyOne(name, now))
	}
	return results, nil
}

func (g *Generator) classifyOne(taskName string, now time.Time) Classification {
	c := Classification{TaskName: taskName}

	state, existed, err := g.loader.Load(taskName)
	if err != nil {
		c.Unreadable = true
		return c
	}
	if !existed {
		c.NoData = true
		return c
	}

	for _, k := range types.AllKinds {
		if state.Alarm[k] {
			c.CurrentlyAlerting = append(c.CurrentlyAlerting, k)
		}
		if state.AlarmNotified[k] {
			c.NotifiedAlerting = append(c.NotifiedAlerting, k)
		}
	}
	c.Normal = len(c.CurrentlyAlerting) == 0

	threshold := g.staleThreshold(taskName)
	if state.LastObservedAt.IsZero() || now.Sub(state.LastObservedAt) > threshold {
		c.Stale = true
	}

	return c
}

func (g *Generator) staleThreshold(taskName string) time.Duration {
	const minThreshold = 180 * time.Second
	expect, ok := g.expectByName[taskName]
	if !ok || expect.Interval <= 0 {
		return minThreshold
	}
	t := expect.Interval * 3
	if t < minThreshold {
		return minThreshold
	}
	return t
}

// FormatSummary renders classifications into the aggregated report text.
func FormatSummary(classifications []Classification) string {
	var b strings.Builder
	var normal, alerting, notified, noData, stale, unreadable []string

	for _, c := range classifications {
		if c.Normal {
			normal = append(normal, c.TaskName)
		}
		if len(c.CurrentlyAlerting) > 0 {
			alerting = append(alerting, fmt.Sprintf("%s(%s)", c.TaskName, joinKinds(c.CurrentlyAlerting)))
		}
		if len(c.NotifiedAlerting) > 0 {
			notified = append(notified, fmt.Sprintf("%s(%s)", c.TaskName, joinKinds(c.NotifiedAlerting)))
		}
		if c.NoData {
			noData = append(noData, c.TaskName)
		}
		if c.Stale {
			stale = append(stale, c.TaskName)
		}
		if c.Unreadable {
			unreadable = append(unreadable, c.TaskName)
		}
	}

	writeSection(&b, "normal", normal)
	writeSection(&b, "currently-alerting", alerting)
	writeSection(&b, "notified-alerting", notified)
	writeSection(&b, "no-data", noData)
	writeSection(&b, "stale", stale)
	writeSection(&b, "unreadable", unreadable)

	return b.String()
}

func writeSection(b *strings.Builder, label string, items []string) {
	fmt.Fprintf(b, "%s (%d): %s\n", label, len(items), strings.Join(items, ", "))
}

func joinKinds(kinds []types.AlertKind) string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ",")
}
